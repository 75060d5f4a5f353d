// Package service streams last-trade prices and index volatility over a
// websocket and keeps the latest values in a Feed.
package service

import (
	"context"
	"strconv"
	"time"

	"risk_desk/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	channelTickers    = "tickers"
	channelVolatility = "volatility"
)

// StatusSink learns about connection changes (the health state).
type StatusSink interface {
	SetWSConnected(v bool)
}

type Config struct {
	URL            string
	Instruments    []string
	ReconnectDelay time.Duration
	PingEvery      time.Duration
}

type Client struct {
	cfg    Config
	feed   *Feed
	status StatusSink
	dialer *websocket.Dialer
}

func NewClient(cfg Config, feed *Feed, status StatusSink) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.PingEvery <= 0 {
		cfg.PingEvery = 20 * time.Second
	}
	return &Client{
		cfg:    cfg,
		feed:   feed,
		status: status,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type subArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId,omitempty"`
}

type frame struct {
	Event string `json:"event"`
	Msg   string `json:"msg"`
	Arg   subArg `json:"arg"`
	Data  []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		IV     string `json:"iv"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

// Run keeps one connection open until ctx is done, reconnecting after
// ReconnectDelay whenever it drops.
func (c *Client) Run(ctx context.Context) {
	for {
		err := c.session(ctx)
		c.setConnected(false)
		if ctx.Err() != nil {
			logger.Info("[WS] stopped")
			return
		}
		logger.Warn("[WS] connection lost, reconnecting in %s: %v", c.cfg.ReconnectDelay, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return errors.Wrapf(err, "dial %s", c.cfg.URL)
	}
	defer conn.Close()

	args := make([]subArg, 0, len(c.cfg.Instruments)+1)
	for _, id := range c.cfg.Instruments {
		args = append(args, subArg{Channel: channelTickers, InstID: id})
	}
	args = append(args, subArg{Channel: channelVolatility})
	if err := c.write(conn, map[string]any{"op": "subscribe", "args": args}); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	logger.Info("[WS] connected %s, %d instruments", c.cfg.URL, len(c.cfg.Instruments))
	c.setConnected(true)

	// read loop ends on close, ping loop ends with it
	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(c.cfg.PingEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-t.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					logger.Warn("[WS] ping: %v", err)
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read")
		}
		if string(msg) == "pong" {
			continue
		}
		if err := c.handle(msg); err != nil {
			logger.Debug("[WS] skip frame: %v", err)
		}
	}
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	b, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

// handle applies one frame to the feed.
func (c *Client) handle(msg []byte) error {
	var f frame
	if err := sonic.Unmarshal(msg, &f); err != nil {
		return errors.Wrap(err, "decode")
	}
	if f.Event != "" {
		if f.Event == "error" {
			logger.Error("[WS] server error: %s", f.Msg)
		}
		return nil
	}

	switch f.Arg.Channel {
	case channelTickers:
		for _, row := range f.Data {
			id := row.InstID
			if id == "" {
				id = f.Arg.InstID
			}
			px, err := decimal.NewFromString(row.Last)
			if err != nil || !px.IsPositive() {
				continue
			}
			c.feed.setPrice(id, px, parseTs(row.Ts))
		}
	case channelVolatility:
		for _, row := range f.Data {
			v, err := decimal.NewFromString(row.IV)
			if err != nil || !v.IsPositive() {
				continue
			}
			c.feed.setVolatility(v)
		}
	default:
		return errors.Errorf("unknown channel %q", f.Arg.Channel)
	}
	return nil
}

func (c *Client) setConnected(v bool) {
	if c.status != nil {
		c.status.SetWSConnected(v)
	}
}

// parseTs: unix millis as a string, now when missing.
func parseTs(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
