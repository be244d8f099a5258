package http

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "user_id"

// DefaultCookieName is where the web client keeps its session token.
const DefaultCookieName = "token"

var errNoUser = errors.New("missing userId claim")

// JWTAuth verifies already-issued HS256 tokens and attaches the numeric user id
// to the request context.
type JWTAuth struct {
	secret     []byte
	cookieName string
}

func NewJWTAuth(secret, cookieName string) *JWTAuth {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &JWTAuth{secret: []byte(secret), cookieName: cookieName}
}

// IssueToken signs a token carrying userId; used by tests and local tooling.
func (j *JWTAuth) IssueToken(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"userId": userID,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := j.tokenFrom(r)
		if raw == "" {
			writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
			return
		}

		token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return j.secret, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				writeError(w, r, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired")
			} else {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			}
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token claims")
			return
		}
		userID, err := userIDClaim(claims)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid user ID in token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (j *JWTAuth) tokenFrom(r *http.Request) string {
	if c, err := r.Cookie(j.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// userIDClaim accepts the id as a JSON number or a numeric string.
func userIDClaim(claims jwt.MapClaims) (int64, error) {
	switch v := claims["userId"].(type) {
	case float64:
		if v <= 0 || v != math.Trunc(v) || v > math.MaxInt64 {
			return 0, errNoUser
		}
		return int64(v), nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return 0, errNoUser
		}
		return id, nil
	default:
		return 0, errNoUser
	}
}

// UserID extracts the authenticated user id from the request context.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}
