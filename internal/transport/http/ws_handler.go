package http

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"practice-progress-service/internal/logger"
)

// WSHandler serves the same use cases as the REST endpoints over one socket.
// Every inbound message gets exactly one reply; nothing is pushed unprompted.
type WSHandler struct {
	service  ProgressService
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewWSHandler accepts browser upgrades from the serving host and from
// allowedOrigins. Requests without an Origin header come from non-browser
// clients and are let through.
func NewWSHandler(service ProgressService, log *logger.Logger, allowedOrigins ...string) *WSHandler {
	if log == nil {
		log = logger.Nop()
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowed),
		},
	}
}

func originChecker(allowed map[string]struct{}) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS upgrades an authenticated request and answers complete/stats messages.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}

	log := h.log.With("user", userID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	log.Debug("ws connected")

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})

	// single writer; gorilla connections do not allow concurrent writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn("ws write error", "error", err)
				_ = conn.Close()
				return
			}
		}
	}()

	emit := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}
	sendError := func(err error) {
		_, code, message := classify(err)
		emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: code, Message: message}})
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "complete":
			sub, err := decodeSubmission(inbound.Payload)
			if err != nil {
				sendError(err)
				continue
			}
			result, err := h.service.CompleteSession(r.Context(), userID, sub)
			if err != nil {
				sendError(err)
				continue
			}
			emit(outboundMessage[any]{Type: "sessionResult", Payload: newCompleteResponse(result)})
		case "stats":
			stats, err := h.service.Stats(r.Context(), userID)
			if err != nil {
				sendError(err)
				continue
			}
			emit(outboundMessage[any]{Type: "stats", Payload: statsResponse{Stats: stats}})
		default:
			emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "VALIDATION_ERROR", Message: "unsupported message type"}})
		}
	}

	close(send)
	<-writerDone
}
