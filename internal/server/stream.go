package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
	"bidhouse/internal/fanout"
	"bidhouse/pkg/errcodes"
)

const (
	frameEvent         = "event"
	frameReplayExpired = "replayExpired"

	streamWriteTimeout = 10 * time.Second
)

type streamFrame struct {
	Type  string        `json:"type"`
	Event *entity.Event `json:"event,omitempty"`
}

// StreamServer upgrades /v1/stream requests to a websocket and feeds the
// subscriber every event on the requested topic. Passing after=<seq>
// replays the missed tail first; when the tail has already been trimmed
// the client gets a replayExpired frame and must refetch auction state.
type StreamServer struct {
	hub *fanout.Hub
}

func NewStreamServer(hub *fanout.Hub) StreamServer {
	return StreamServer{hub: hub}
}

func (s StreamServer) Serve(w http.ResponseWriter, r *http.Request) error {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		return domain.NewError(errcodes.ValidationError, "topic is required")
	}

	var afterSeq uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return domain.NewError(errcodes.ValidationError, "after must be an unsigned integer")
		}
		afterSeq = parsed
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil // Accept already wrote the handshake error.
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before replaying so nothing published in between is lost.
	// Overlap between the replayed tail and the live feed is cut by seq.
	sub := s.hub.Subscribe(topic)
	defer sub.Close()

	go func() {
		// The client never sends data frames; the read pump only notices
		// the connection going away.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	lastSeq := afterSeq

	if afterSeq > 0 {
		missed, err := s.hub.Replay(ctx, topic, afterSeq)
		if err != nil {
			if !domain.HasCode(err, errcodes.ReplayExpired) {
				return err
			}

			if err := s.write(ctx, conn, streamFrame{Type: frameReplayExpired}); err != nil {
				return nil
			}
			lastSeq = 0
		}

		for _, ev := range missed {
			if err := s.write(ctx, conn, streamFrame{Type: frameEvent, Event: &ev}); err != nil {
				return nil
			}
			lastSeq = ev.Seq
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				// Dropped as a slow subscriber.
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return nil
			}
			if ev.Seq <= lastSeq {
				continue
			}
			if err := s.write(ctx, conn, streamFrame{Type: frameEvent, Event: &ev}); err != nil {
				return nil
			}
			lastSeq = ev.Seq
		}
	}
}

func (s StreamServer) write(ctx context.Context, conn *websocket.Conn, frame streamFrame) error {
	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()

	return wsjson.Write(wctx, conn, frame)
}
