package eventbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroadcastDeliversToConnectedClient(t *testing.T) {
	b := New()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/events/stream", nil)
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)

	done := make(chan struct{})
	go func() {
		_ = b.Register(ctx, rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, b.Broadcast(map[string]string{"type": "notification"}))

	cancel()
	<-done

	body := rec.Body.String()
	require.Contains(t, body, "event: notification")
	require.Contains(t, body, `"type":"notification"`)
}

func TestClientCountDropsOnDisconnect(t *testing.T) {
	b := New()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/events/stream", nil)
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)

	done := make(chan struct{})
	go func() {
		_ = b.Register(ctx, rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done
	require.Equal(t, 0, b.ClientCount())
}
