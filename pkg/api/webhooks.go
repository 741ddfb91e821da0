// Inbound injection: lets local tools push a bot envelope onto the bus.
package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/sipeed/nasrelay/pkg/bus"
	"github.com/sipeed/nasrelay/pkg/logger"
)

const maxInboundBody = 64 << 10

// POST /api/inbound
//
// Body is the same envelope the bot gateway writes to the incoming queue:
//
//	{"credential": "...", "update": {"message": {"chat": {"id": 1}, "text": "/containers"}}}
//
// The envelope goes through the normal dispatcher path, including
// authorization, and the reply appears on the outbound side.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "message bus not available"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	msg, err := bus.DecodeInbound(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return
	}

	if err := s.bus.PublishInbound(r.Context(), msg); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, r.Context().Err()) {
			status = http.StatusRequestTimeout
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	logger.DebugCF("api", "Inbound envelope injected", map[string]interface{}{
		"chat_id":   msg.ChatID,
		"update_id": msg.UpdateID,
	})
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": true,
		"chat_id":  msg.ChatID,
	})
}
