package introspect

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jakegut/h2demux/http2"
)

type fakeSource struct {
	snap []http2.StreamSnapshot
}

func (f *fakeSource) Snapshot() []http2.StreamSnapshot { return f.snap }

func TestServerPushesSnapshot(t *testing.T) {
	src := &fakeSource{snap: []http2.StreamSnapshot{
		{StreamID: 1, State: http2.StreamActive, Window: 65535},
	}}
	srv := NewServer(src, 10*time.Millisecond, nil)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/snapshots"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Dial(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	frame, err := client.Next(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, frame.SubscriptionID)
	require.Len(t, frame.Streams, 1)
	require.Equal(t, uint32(1), frame.Streams[0].StreamID)
	require.Equal(t, "active", frame.Streams[0].State)
}

func TestServerEmptyRegistry(t *testing.T) {
	src := &fakeSource{}
	srv := NewServer(src, 10*time.Millisecond, nil)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/snapshots"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Dial(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	frame, err := client.Next(ctx)
	require.NoError(t, err)
	require.Empty(t, frame.Streams)
}
