package web

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/vbonduro/where2skate/internal/repository"
)

const wsWriteWait = 10 * time.Second

func (s *Server) handleStreamSkateparks(w http.ResponseWriter, r *http.Request) {
	streamSSE(s, w, r, s.repo.ListSkateparks(r.Context()))
}

func (s *Server) handleStreamSkatepark(w http.ResponseWriter, r *http.Request) {
	streamSSE(s, w, r, s.repo.GetSkatepark(r.Context(), r.PathValue("id")))
}

func (s *Server) handleStreamRatings(w http.ResponseWriter, r *http.Request) {
	streamSSE(s, w, r, s.repo.ListRatings(r.Context(), r.PathValue("id")))
}

// streamSSE writes every value of sub as one "data:" event carrying JSON. If
// the subscription fails the stream ends with an "error" event. The stream
// lasts until the client goes away.
func streamSSE[T any](s *Server, w http.ResponseWriter, r *http.Request, sub *repository.Subscription[T]) {
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}
	flush()

	for {
		select {
		case v, ok := <-sub.Updates():
			if !ok {
				if err := sub.Err(); err != nil {
					s.logger.Warn("stream ended by store failure", "path", r.URL.Path, "error", err)
					_ = writeEvent(w, "error", errorResponse{Error: err.Error()})
					flush()
				}
				return
			}
			if err := writeEvent(w, "", v); err != nil {
				return
			}
			flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := w.Write([]byte("event: " + event + "\n")); err != nil {
			return err
		}
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

// handleWebSocketSkateparks sends the skatepark list as one JSON text message
// per change. Messages from the client are read only to notice the close.
func (s *Server) handleWebSocketSkateparks(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer closeWithLog(conn, "websocket", s.logger)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sub := s.repo.ListSkateparks(ctx)
	defer sub.Close()

	for {
		select {
		case parks, ok := <-sub.Updates():
			if !ok {
				if err := sub.Err(); err != nil {
					s.logger.Warn("websocket stream ended by store failure", "error", err)
					msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "document store unavailable")
					_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
				}
				return
			}
			data, err := json.Marshal(parks)
			if err != nil {
				s.logger.Error("failed to encode skateparks", "error", err)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
