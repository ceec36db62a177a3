// Package introspect serves registry snapshots (http2.Core.Snapshot) to a
// local TUI client over a loopback websocket — the read-only surface
// SPEC_FULL.md §C.3 asks for, grounded on devagent's bridgePTYWebSocket
// (accept, per-connection goroutine pair, read limit) but pushing JSON
// snapshots instead of bridging a PTY.
package introspect

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jakegut/h2demux/http2"
)

// Source is the narrow surface the feed needs from a live connection's
// core. http2.Core satisfies it.
type Source interface {
	Snapshot() []http2.StreamSnapshot
}

// Snapshot is the wire shape pushed to subscribers — a JSON-friendly
// restating of http2.StreamSnapshot (the core type stays free of json
// tags; nothing else in http2/ needs them).
type Snapshot struct {
	StreamID            uint32 `json:"stream_id"`
	State               string `json:"state"`
	Window              int64  `json:"window"`
	InReadCompleteBatch bool   `json:"in_read_complete_batch"`
}

// Frame is one push: a subscription id plus the registry state at the
// moment it was taken.
type Frame struct {
	SubscriptionID string     `json:"subscription_id"`
	Streams        []Snapshot `json:"streams"`
}

// Server pushes periodic snapshots of src's registry to every connected
// websocket client, one subscription id per connection (google/uuid) so a
// client reconnecting after a drop is distinguishable in the daemon's logs
// from one that has been live the whole time.
type Server struct {
	src      Source
	interval time.Duration
	log      *zap.Logger
}

// NewServer builds a Server polling src every interval (default when
// interval <= 0: 250ms, fast enough for a live dashboard, slow enough not to
// starve the mux's own loop goroutine via repeated Core.Snapshot round
// trips).
func NewServer(src Source, interval time.Duration, log *zap.Logger) *Server {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{src: src, interval: interval, log: log}
}

// Handler returns the http.Handler to mount at the introspection listener's
// websocket path (ListenAndServe mounts it at "/snapshots").
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

// ListenAndServe runs a standalone HTTP server bound to addr (a loopback
// address per SPEC_FULL.md §B) serving the snapshot feed at "/snapshots".
// Blocks until the listener errors or ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/snapshots", s.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "introspect: listen %s", addr)
	}

	srv := &http.Server{Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("introspect: websocket accept failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(4096)

	subID := uuid.NewString()
	ctx := r.Context()

	s.log.Info("introspect: subscriber connected", zap.String("subscription_id", subID))
	defer s.log.Info("introspect: subscriber disconnected", zap.String("subscription_id", subID))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case <-ticker.C:
			if err := s.push(ctx, conn, subID); err != nil {
				s.log.Debug("introspect: push failed, closing", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn, subID string) error {
	raw := s.src.Snapshot()
	streams := make([]Snapshot, 0, len(raw))
	for _, sn := range raw {
		streams = append(streams, Snapshot{
			StreamID:            sn.StreamID,
			State:               sn.State.String(),
			Window:              sn.Window,
			InReadCompleteBatch: sn.InReadCompleteBatch,
		})
	}

	bs, err := json.Marshal(Frame{SubscriptionID: subID, Streams: streams})
	if err != nil {
		return errors.Wrap(err, "marshal snapshot frame")
	}
	return conn.Write(ctx, websocket.MessageText, bs)
}

// Client is the TUI-side half: it connects to a daemon's snapshot feed and
// decodes Frames as they arrive. Kept deliberately minimal — internal/tui
// is the only caller.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to a daemon's introspection endpoint at url (e.g.
// "ws://127.0.0.1:8090/snapshots").
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "introspect: dial %s", url)
	}
	conn.SetReadLimit(1 << 20)
	return &Client{conn: conn}, nil
}

// Next blocks for the next pushed Frame.
func (c *Client) Next(ctx context.Context) (Frame, error) {
	var fr Frame
	_, bs, err := c.conn.Read(ctx)
	if err != nil {
		return fr, errors.Wrap(err, "introspect: read")
	}
	if err := json.Unmarshal(bs, &fr); err != nil {
		return fr, errors.Wrap(err, "introspect: decode frame")
	}
	return fr, nil
}

// Close closes the underlying websocket connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client closing")
}
