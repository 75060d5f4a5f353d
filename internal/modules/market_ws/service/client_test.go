package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type status struct{ up atomic.Bool }

func (s *status) SetWSConnected(v bool) { s.up.Store(v) }

func TestHandle(t *testing.T) {
	feed := NewFeed()
	c := NewClient(Config{}, feed, nil)

	require.NoError(t, c.handle([]byte(`{"arg":{"channel":"tickers","instId":"NIFTY-FUT"},"data":[{"last":"21950.5","ts":"1705900000000"}]}`)))
	require.NoError(t, c.handle([]byte(`{"arg":{"channel":"volatility"},"data":[{"iv":"14.2"}]}`)))
	require.NoError(t, c.handle([]byte(`{"event":"subscribe","arg":{"channel":"tickers"}}`)))
	assert.Error(t, c.handle([]byte(`{"arg":{"channel":"books"},"data":[]}`)))
	assert.Error(t, c.handle([]byte(`not json`)))

	px, err := feed.GetPrice(context.Background(), "NIFTY-FUT")
	require.NoError(t, err)
	assert.True(t, px.Equal(decimal.RequireFromString("21950.5")))

	// older frame does not overwrite
	require.NoError(t, c.handle([]byte(`{"arg":{"channel":"tickers","instId":"NIFTY-FUT"},"data":[{"last":"21000","ts":"1705899990000"}]}`)))
	px, _ = feed.GetPrice(context.Background(), "NIFTY-FUT")
	assert.True(t, px.Equal(decimal.RequireFromString("21950.5")))

	// zero price is ignored
	require.NoError(t, c.handle([]byte(`{"arg":{"channel":"tickers","instId":"NIFTY-FUT"},"data":[{"last":"0","ts":"1705900010000"}]}`)))
	px, _ = feed.GetPrice(context.Background(), "NIFTY-FUT")
	assert.True(t, px.Equal(decimal.RequireFromString("21950.5")))

	iv, err := feed.GetImpliedVolatility(context.Background())
	require.NoError(t, err)
	assert.True(t, iv.Equal(decimal.RequireFromString("14.2")))

	_, err = feed.GetPrice(context.Background(), "BANKNIFTY-FUT")
	assert.Error(t, err)
}

func TestFeed_Seed(t *testing.T) {
	feed := NewFeed()
	feed.setPrice("A", decimal.NewFromInt(5), time.Now())
	feed.Seed(map[string]decimal.Decimal{"A": decimal.NewFromInt(1), "B": decimal.NewFromInt(2)}, decimal.NewFromInt(15))

	a, _ := feed.GetPrice(context.Background(), "A")
	b, _ := feed.GetPrice(context.Background(), "B")
	assert.True(t, a.Equal(decimal.NewFromInt(5)))
	assert.True(t, b.Equal(decimal.NewFromInt(2)))
}

func TestRun_SubscribesAndStreams(t *testing.T) {
	subscribed := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(msg)
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"arg":{"channel":"tickers","instId":"NIFTY-FUT"},"data":[{"last":"22001","ts":"1705900000000"}]}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	feed := NewFeed()
	st := &status{}
	c := NewClient(Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		Instruments:    []string{"NIFTY-FUT"},
		ReconnectDelay: 10 * time.Millisecond,
		PingEvery:      50 * time.Millisecond,
	}, feed, st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case msg := <-subscribed:
		assert.Contains(t, msg, `"op":"subscribe"`)
		assert.Contains(t, msg, `"instId":"NIFTY-FUT"`)
		assert.Contains(t, msg, `"channel":"volatility"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe frame")
	}

	assert.Eventually(t, func() bool {
		px, err := feed.GetPrice(context.Background(), "NIFTY-FUT")
		return err == nil && px.Equal(decimal.NewFromInt(22001))
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, st.up.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.False(t, st.up.Load())
}
