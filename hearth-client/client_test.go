package hearthclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

type fakeConn struct {
	in chan []byte

	mu     sync.Mutex
	out    [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.in
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	c.out = append(c.out, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.out...)
}

// scriptedDialer returns one result per dial attempt, in order.
type scriptedDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	errs  []error
	calls int
	done  chan struct{}
}

func newScriptedDialer(results ...interface{}) *scriptedDialer {
	d := &scriptedDialer{done: make(chan struct{}, 16)}
	for _, r := range results {
		switch v := r.(type) {
		case *fakeConn:
			d.conns = append(d.conns, v)
			d.errs = append(d.errs, nil)
		case error:
			d.conns = append(d.conns, nil)
			d.errs = append(d.errs, v)
		}
	}
	return d
}

func (d *scriptedDialer) dial(_ context.Context, _ string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.calls
	d.calls++
	d.done <- struct{}{}

	if i >= len(d.conns) {
		return nil, errors.New("no more scripted results")
	}
	if d.errs[i] != nil {
		return nil, d.errs[i]
	}
	return d.conns[i], nil
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func eventFrame(t *testing.T, eventType string, payload interface{}) []byte {
	data, err := json.Marshal(payload)
	assert.NoError(t, err)
	frame, err := json.Marshal(map[string]json.RawMessage{
		"type": json.RawMessage(`"` + eventType + `"`),
		"data": data,
	})
	assert.NoError(t, err)
	return frame
}

func TestBackoff(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, 500*time.Millisecond, Backoff(base, 1))
	assert.Equal(t, 1*time.Second, Backoff(base, 2))
	assert.Equal(t, 2*time.Second, Backoff(base, 3))
	assert.Equal(t, 4*time.Second, Backoff(base, 4))
	assert.Equal(t, 64*time.Second, Backoff(base, 8))

	// Attempt numbers below 1 clamp to the base delay.
	assert.Equal(t, base, Backoff(base, 0))
}

func TestClient(t *testing.T) {
	t.Run("dispatches events to listeners", func(t *testing.T) {
		conn := newFakeConn()
		dialer := newScriptedDialer(conn)

		client := New(Config{
			URL:    "ws://localhost",
			Dial:   dialer.dial,
			Logger: zerolog.Nop(),
		})

		received := make(chan json.RawMessage, 1)
		client.On("message.sent", func(data json.RawMessage) {
			received <- data
		})

		assert.NoError(t, client.Connect(context.Background()))
		assert.Equal(t, Connected, client.State())

		conn.in <- eventFrame(t, "message.sent", map[string]string{"body": "hi"})

		select {
		case data := <-received:
			var payload map[string]string
			assert.NoError(t, json.Unmarshal(data, &payload))
			assert.Equal(t, "hi", payload["body"])
		case <-time.After(time.Second):
			t.Fatal("listener never invoked")
		}

		assert.NoError(t, client.Close())
	})

	t.Run("send while disconnected drops the frame", func(t *testing.T) {
		client := New(Config{
			URL:    "ws://localhost",
			Dial:   newScriptedDialer().dial,
			Logger: zerolog.Nop(),
		})

		err := client.Send("user.typing", map[string]string{"chatId": "c1"})
		assert.True(t, errors.Is(err, ErrNotConnected))
	})

	t.Run("send writes a typed frame", func(t *testing.T) {
		conn := newFakeConn()
		client := New(Config{
			URL:    "ws://localhost",
			Dial:   newScriptedDialer(conn).dial,
			Logger: zerolog.Nop(),
		})
		assert.NoError(t, client.Connect(context.Background()))

		assert.NoError(t, client.Send("user.typing", map[string]string{"chatId": "c1"}))

		frames := conn.written()
		assert.Len(t, frames, 1)

		var frame struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		assert.NoError(t, json.Unmarshal(frames[0], &frame))
		assert.Equal(t, "user.typing", frame.Type)

		assert.NoError(t, client.Close())
	})

	t.Run("first dial failure surfaces", func(t *testing.T) {
		client := New(Config{
			URL:    "ws://localhost",
			Dial:   newScriptedDialer(errors.New("refused")).dial,
			Logger: zerolog.Nop(),
		})

		err := client.Connect(context.Background())
		assert.Error(t, err)
		assert.Equal(t, Disconnected, client.State())
	})

	t.Run("reconnects after a drop, listeners survive", func(t *testing.T) {
		conn1 := newFakeConn()
		conn2 := newFakeConn()
		dialer := newScriptedDialer(conn1, errors.New("refused"), conn2)

		client := New(Config{
			URL:       "ws://localhost",
			Dial:      dialer.dial,
			BaseDelay: time.Millisecond,
			Logger:    zerolog.Nop(),
		})

		var reconnects int
		var mu sync.Mutex
		client.OnReconnect = func(context.Context) {
			mu.Lock()
			reconnects++
			mu.Unlock()
		}

		received := make(chan json.RawMessage, 1)
		client.On("message.sent", func(data json.RawMessage) {
			received <- data
		})

		assert.NoError(t, client.Connect(context.Background()))

		// Drop the first session; the client retries (one refusal, then
		// conn2) and the listener keeps working on the new session.
		conn1.Close()

		deadline := time.After(2 * time.Second)
		for dialer.dialCount() < 3 {
			select {
			case <-deadline:
				t.Fatal("client never redialled")
			case <-time.After(5 * time.Millisecond):
			}
		}

		conn2.in <- eventFrame(t, "message.sent", map[string]string{"body": "again"})

		select {
		case data := <-received:
			var payload map[string]string
			assert.NoError(t, json.Unmarshal(data, &payload))
			assert.Equal(t, "again", payload["body"])
		case <-time.After(time.Second):
			t.Fatal("listener lost across reconnect")
		}

		mu.Lock()
		assert.Equal(t, 2, reconnects)
		mu.Unlock()

		assert.NoError(t, client.Close())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		dialer := newScriptedDialer(
			newFakeConn(),
			errors.New("refused"), errors.New("refused"), errors.New("refused"),
		)

		client := New(Config{
			URL:         "ws://localhost",
			Dial:        dialer.dial,
			BaseDelay:   time.Millisecond,
			MaxAttempts: 3,
			Logger:      zerolog.Nop(),
		})
		assert.NoError(t, client.Connect(context.Background()))

		// Kill the session and let every retry fail.
		conn := dialer.conns[0]
		conn.Close()

		deadline := time.After(2 * time.Second)
		for dialer.dialCount() < 4 {
			select {
			case <-deadline:
				t.Fatal("client never exhausted retries")
			case <-time.After(5 * time.Millisecond):
			}
		}

		// Settles in Disconnected once attempts run out.
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, Disconnected, client.State())
	})
}
