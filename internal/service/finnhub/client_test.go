package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsServer(t *testing.T, frames []string, subs chan<- map[string]string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subs <- sub
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// hold the socket until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
}

func TestClientStreamsTicksWithDayVolume(t *testing.T) {
	t.Parallel()

	// 2024-01-15 09:15 UTC, 09:16 UTC, then the next day
	frames := []string{
		`{"type":"ping"}`,
		`{"type":"trade","data":[{"s":"AAPL","p":100.5,"v":10,"t":1705310100000},{"s":"AAPL","p":101,"v":5,"t":1705310160000}]}`,
		`{"type":"trade","data":[{"s":"AAPL","p":99,"v":3,"t":1705396500000}]}`,
	}
	subs := make(chan map[string]string, 1)
	srv := wsServer(t, frames, subs)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New("key", "ws"+strings.TrimPrefix(srv.URL, "http"), 10*time.Millisecond, time.Second, WithLocation(time.UTC))
	require.NoError(t, c.Connect(ctx))
	defer c.Close()
	assert.True(t, c.IsConnected())
	require.NoError(t, c.Subscribe(ctx, "AAPL"))

	assert.Equal(t, map[string]string{"type": "subscribe", "symbol": "AAPL"}, <-subs)

	ticks, _ := c.Read(ctx)
	var vols []float64
	var prices []float64
	for i := 0; i < 3; i++ {
		select {
		case tk := <-ticks:
			require.NotNil(t, tk)
			assert.Equal(t, "AAPL", tk.Ticker)
			vols = append(vols, tk.CumulativeVolume())
			prices = append(prices, tk.Close)
		case <-ctx.Done():
			t.Fatal("timed out waiting for ticks")
		}
	}
	assert.Equal(t, []float64{10, 15, 3}, vols)
	assert.Equal(t, []float64{100.5, 101, 99}, prices)
}

func TestClientRejectsBadToken(t *testing.T) {
	t.Parallel()

	srv := wsServer(t, nil, make(chan map[string]string, 1))
	defer srv.Close()

	c := New("wrong", "ws"+strings.TrimPrefix(srv.URL, "http"), time.Millisecond, time.Second)
	assert.Error(t, c.Connect(context.Background()))
	assert.False(t, c.IsConnected())
}

func TestSubscribeRequiresConnection(t *testing.T) {
	t.Parallel()

	c := New("key", "ws://127.0.0.1:1", time.Millisecond, time.Second)
	assert.ErrorIs(t, c.Subscribe(context.Background(), "AAPL"), ErrNotConnected)
	assert.NoError(t, c.Close())
}
