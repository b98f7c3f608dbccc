package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/frontier/internal/modules/frontier"
	"nhooyr.io/websocket"
)

const streamWriteTimeout = 5 * time.Second

// StreamEvent is one message sent to a stream client.
type StreamEvent struct {
	Type   string           `json:"type"` // progress, result, error
	Done   int              `json:"done,omitempty"`
	Total  int              `json:"total,omitempty"`
	Result *frontier.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
	Status int              `json:"status,omitempty"`
}

// HandleStream handles GET /api/frontier/stream
//
// The client sends a single Input message after the upgrade. The server
// answers with a progress event per completed history, then a result or an
// error event, and closes. Closing the connection early cancels the run.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected shutdown")

	ctx := r.Context()
	_, data, err := conn.Read(ctx)
	if err != nil {
		h.log.Debug().Err(err).Msg("Stream closed before request")
		return
	}

	var in frontier.Input
	if err := json.Unmarshal(data, &in); err != nil {
		h.send(conn, StreamEvent{Type: "error", Error: "Invalid request body", Status: http.StatusBadRequest})
		conn.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}

	// Reading stops here; the returned context ends when the peer goes away.
	ctx = conn.CloseRead(ctx)

	result, err := h.service.ResampleWithProgress(ctx, in, func(done, total int) {
		h.send(conn, StreamEvent{Type: "progress", Done: done, Total: total})
	})
	if err != nil {
		if ctx.Err() != nil {
			h.log.Info().Err(err).Msg("Stream client left, run cancelled")
			return
		}
		h.send(conn, StreamEvent{Type: "error", Error: err.Error(), Status: statusFor(err)})
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	h.send(conn, StreamEvent{Type: "result", Result: result})
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) send(conn *websocket.Conn, event StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal stream event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamWriteTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.log.Debug().Err(err).Str("type", event.Type).Msg("Failed to write stream event")
	}
}
