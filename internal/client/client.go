// Package client talks to a balancer search server over WebSocket.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/server"
)

// ErrClosed is returned once the connection has gone away.
var ErrClosed = errors.New("connection closed")

// Client is one connection to the search endpoint. Received messages are
// buffered in arrival order.
type Client struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	mu       sync.Mutex
	messages []gjson.Result
	readErr  error
	arrived  chan struct{}
	closed   chan struct{}
}

// Dial connects to url, for example ws://localhost:8080/ws.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:    conn,
		arrived: make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	go c.readMessages()
	return c, nil
}

func (c *Client) readMessages() {
	defer close(c.closed)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		if !gjson.ValidBytes(data) {
			continue
		}
		c.mu.Lock()
		c.messages = append(c.messages, gjson.ParseBytes(data))
		c.mu.Unlock()

		select {
		case c.arrived <- struct{}{}:
		default:
		}
	}
}

// Send writes v as a JSON message.
func (c *Client) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Cancel asks the server to stop the running search.
func (c *Client) Cancel() error {
	return c.Send(map[string]string{"type": "cancel"})
}

// Messages returns a copy of every message received so far.
func (c *Client) Messages() []gjson.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]gjson.Result, len(c.messages))
	copy(result, c.messages)
	return result
}

// since returns the messages from index i on.
func (c *Client) since(i int) []gjson.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.messages) {
		return nil
	}
	return append([]gjson.Result(nil), c.messages[i:]...)
}

// WaitForMessage waits for a message of the given type.
func (c *Client) WaitForMessage(msgType string, timeout time.Duration) (gjson.Result, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	next := 0
	for {
		for _, m := range c.since(next) {
			next++
			if m.Get("type").String() == msgType {
				return m, true
			}
		}
		select {
		case <-c.arrived:
		case <-c.closed:
			// Messages may have landed between since and the close.
			for _, m := range c.since(next) {
				if m.Get("type").String() == msgType {
					return m, true
				}
			}
			return gjson.Result{}, false
		case <-timer.C:
			return gjson.Result{}, false
		}
	}
}

// Search sends req and blocks until its result arrives, handing each
// progress message to onProgress. When ctx is done the search is cancelled
// and Search keeps waiting for the partial result.
func (c *Client) Search(ctx context.Context, req any, onProgress func(gjson.Result)) (gjson.Result, error) {
	start := len(c.Messages())
	if err := c.Send(req); err != nil {
		return gjson.Result{}, err
	}

	done := ctx.Done()
	next := start
	for {
		for _, m := range c.since(next) {
			next++
			switch m.Get("type").String() {
			case server.TypeProgress:
				if onProgress != nil {
					onProgress(m)
				}
			case server.TypeResult:
				return m, nil
			case server.TypeError:
				return gjson.Result{}, fmt.Errorf("server: %s", m.Get("error").String())
			}
		}

		select {
		case <-c.arrived:
		case <-c.closed:
			if len(c.since(next)) > 0 {
				continue
			}
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			return gjson.Result{}, fmt.Errorf("%w: %w", ErrClosed, err)
		case <-done:
			done = nil
			if err := c.Cancel(); err != nil {
				return gjson.Result{}, err
			}
		}
	}
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// TripleJSON is the seed_triple payload for t.
func TripleJSON(t archetype.Triple) map[string]any {
	build := func(b archetype.Build) map[string]any {
		m := map[string]any{"atk": b.Atk, "defense": b.Defense, "revenge": b.Revenge, "hp": b.HP}
		if b.Spd != 0 {
			m["spd"] = b.Spd
		}
		return m
	}
	return map[string]any{
		"offense":  build(t.Offense),
		"balanced": build(t.Balanced),
		"tank":     build(t.Tank),
	}
}
