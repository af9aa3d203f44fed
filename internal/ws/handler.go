package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/hub"
	"github.com/DoyleJ11/kart-party/internal/types"
)

const (
	outboxSize   = 64
	writeTimeout = 3 * time.Second
)

// Handler is the relay endpoint: one websocket per peer id, frames routed
// through the hub.
func Handler(h *hub.Hub, originPatterns []string, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		peer := r.URL.Query().Get("peer")
		if peer == "" {
			http.Error(w, "missing peer", http.StatusBadRequest)
			return
		}

		out := make(chan types.Frame, outboxSize)
		reply := make(chan error, 1)
		if err := h.Send(r.Context(), hub.Register{PeerID: peer, Outbox: out, Reply: reply}); err != nil {
			http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := <-reply; err != nil {
			status := http.StatusServiceUnavailable
			if errors.Is(err, hub.ErrPeerTaken) {
				status = http.StatusConflict
			}
			http.Error(w, err.Error(), status)
			return
		}
		// Unregister is a no-op if the hub already dropped us.
		defer func() {
			_ = h.Send(context.Background(), hub.Unregister{PeerID: peer, Outbox: out})
		}()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			log.Debug("accept failed", zap.String("peer", peer), zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		log.Info("peer connected", zap.String("peer", peer))

		// Writer goroutine
		go func() {
			for f := range out {
				payload, err := json.Marshal(f)
				if err != nil {
					continue
				}
				ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
				err = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					break
				}
			}
			// Outbox closed by the hub (slow peer or shutdown) or the write failed.
			conn.Close(websocket.StatusPolicyViolation, "relay dropped connection")
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Info("peer disconnected", zap.String("peer", peer))
				default:
					log.Debug("peer read failed", zap.String("peer", peer), zap.Error(err))
				}
				return
			}

			var f types.Frame
			if err := json.Unmarshal(data, &f); err != nil || f.To == "" {
				log.Debug("bad frame", zap.String("peer", peer))
				continue
			}
			f.From = peer
			if err := h.Send(r.Context(), hub.Route{Frame: f}); err != nil {
				return
			}
		}
	}
}
