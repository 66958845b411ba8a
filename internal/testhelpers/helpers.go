// Package testhelpers provides websocket and HTTP helpers shared by the
// agentchat tests.
//
// Conn wraps a client websocket with a background reader so tests can wait
// for a specific event type, or assert that one does not arrive, without
// tripping gorilla's permanent read-deadline errors.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header sent by test clients.
const TestOrigin = "http://localhost:3000"

// DefaultWait bounds how long Expect waits for an event.
const DefaultWait = 3 * time.Second

// WebSocketURL converts an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials url with the test Origin header.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	return ConnectWebSocketWithOrigin(url, TestOrigin)
}

// ConnectWebSocketWithOrigin dials url with the given Origin header. An
// empty origin sends none.
func ConnectWebSocketWithOrigin(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// Event is a decoded server frame.
type Event map[string]any

// Type returns the event's type field.
func (e Event) Type() string { return e.Str("type") }

// Str returns e[key] as a string, or "".
func (e Event) Str(key string) string {
	s, _ := e[key].(string)
	return s
}

// Conn is a test websocket client.
type Conn struct {
	t      *testing.T
	ws     *websocket.Conn
	events chan Event

	mu  sync.Mutex
	err error
}

// Dial connects to the /ws endpoint of serverURL and starts reading. The
// connection is closed when the test ends.
func Dial(t *testing.T, serverURL string) *Conn {
	t.Helper()

	ws, err := ConnectWebSocket(WebSocketURL(serverURL))
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	c := &Conn{t: t, ws: ws, events: make(chan Event, 256)}
	go c.readLoop()
	t.Cleanup(func() { _ = ws.Close() })
	return c
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			ev = Event{"type": "<non-json>", "raw": string(data)}
		}
		c.events <- ev
	}
}

// Send writes v as a JSON frame.
func (c *Conn) Send(v any) {
	c.t.Helper()
	if err := c.ws.WriteJSON(v); err != nil {
		c.t.Fatalf("Failed to send frame: %v", err)
	}
}

// SendRaw writes data as a text frame.
func (c *Conn) SendRaw(data []byte) {
	c.t.Helper()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("Failed to send raw frame: %v", err)
	}
}

// Next returns the next event or fails after wait.
func (c *Conn) Next(wait time.Duration) Event {
	c.t.Helper()
	select {
	case ev, ok := <-c.events:
		if !ok {
			c.t.Fatalf("connection closed while waiting for event: %v", c.readErr())
		}
		return ev
	case <-time.After(wait):
		c.t.Fatalf("timed out after %v waiting for event", wait)
	}
	return nil
}

// Expect skips events until one of type eventType arrives.
func (c *Conn) Expect(eventType string) Event {
	c.t.Helper()
	deadline := time.After(DefaultWait)
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				c.t.Fatalf("connection closed while waiting for %q: %v", eventType, c.readErr())
			}
			if ev.Type() == eventType {
				return ev
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for %q", eventType)
		}
	}
}

// ExpectNone fails if an event of type eventType arrives within wait.
func (c *Conn) ExpectNone(eventType string, wait time.Duration) {
	c.t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			if ev.Type() == eventType {
				c.t.Fatalf("unexpected %q event: %v", eventType, ev)
			}
		case <-deadline:
			return
		}
	}
}

// ExpectClosed waits for the server to close the connection.
func (c *Conn) ExpectClosed(wait time.Duration) {
	c.t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case _, ok := <-c.events:
			if !ok {
				return
			}
		case <-deadline:
			c.t.Fatalf("connection still open after %v", wait)
		}
	}
}

// Close sends a normal close frame and closes the socket.
func (c *Conn) Close() {
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.ws.Close()
}

func (c *Conn) readErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
