package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/stackgobrr/actions-dashboard-sub000/internal"
)

// State is the connection lifecycle of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const maxReconnectDelay = 30 * time.Second

// reconnectDelay follows min(1s * 2^attempts, 30s).
func reconnectDelay(attempts int) time.Duration {
	if attempts >= 5 {
		return maxReconnectDelay
	}
	return time.Second << uint(attempts)
}

type clientSubscriber struct {
	id      uint64
	deliver func(internal.Event)
}

// Client consumes an event stream and rebroadcasts frames to local
// subscribers, mirroring the gateway-side registry so many consumers can
// share one connection. It reconnects with capped exponential backoff.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *log.Logger

	mu             sync.Mutex
	state          State
	enabled        bool
	attempts       int
	cancel         context.CancelFunc
	reconnectTimer *time.Timer
	subscribers    []clientSubscriber
	nextID         uint64
}

func NewClient(url string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		url:        url,
		httpClient: http.DefaultClient,
		logger:     logger,
		state:      StateDisconnected,
	}
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers deliver for every event the stream produces. The
// returned function removes the subscription and is safe to call twice.
func (c *Client) Subscribe(deliver func(internal.Event)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers = append(c.subscribers, clientSubscriber{id: id, deliver: deliver})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, sub := range c.subscribers {
				if sub.id == id {
					c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// Connect opens the stream. It is a no-op while already connecting or
// connected.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnecting || c.state == StateConnected {
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.enabled = true
	c.startLocked()
}

// Disconnect tears the connection down and cancels any pending reconnect.
// Calling it repeatedly, or before ever connecting, is safe.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = StateDisconnected
	c.attempts = 0
}

// startLocked transitions to Connecting and launches the stream goroutine.
// Callers hold c.mu.
func (c *Client) startLocked() {
	c.state = StateConnecting
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

func (c *Client) run(ctx context.Context) {
	// Every failure path checks ctx first: a cancelled run belongs to a
	// previous Connect/Disconnect cycle and must not schedule a reconnect
	// on behalf of the live one.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.onFailure(err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.onFailure(err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if ctx.Err() != nil {
			return
		}
		c.onFailure(fmt.Errorf("unexpected status %s", resp.Status))
		return
	}

	c.onOpen()
	err = c.readStream(ctx, resp.Body)
	if ctx.Err() != nil {
		// Disconnect already owns the state transition.
		return
	}
	c.onFailure(err)
}

func (c *Client) onOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateConnected
	c.attempts = 0
	c.logger.Printf("connected to %s", c.url)
}

// onFailure schedules exactly one reconnect timer; a second failure before
// the timer fires replaces it instead of stacking another.
func (c *Client) onFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		c.state = StateDisconnected
		return
	}

	c.state = StateError
	delay := reconnectDelay(c.attempts)
	c.attempts++
	c.logger.Printf("stream failed (%v), reconnecting in %s", err, delay)

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.state = StateReconnecting
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.reconnectTimer = nil
		if !c.enabled {
			return
		}
		c.startLocked()
	})
}

func (c *Client) readStream(ctx context.Context, body io.Reader) error {
	reader := bufio.NewReader(body)
	var data []string

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) > 0 {
				c.dispatch(strings.Join(data, "\n"))
				data = data[:0]
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			// Heartbeat comment frame.
			continue
		}

		field, value := splitFrameLine(line)
		if field == "data" {
			data = append(data, value)
		}
	}
}

// dispatch decodes one data frame and fans it out. A malformed frame is
// logged and dropped; the stream stays open.
func (c *Client) dispatch(raw string) {
	var event internal.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		c.logger.Printf("dropping malformed frame: %v", err)
		return
	}

	c.mu.Lock()
	snapshot := make([]clientSubscriber, len(c.subscribers))
	copy(snapshot, c.subscribers)
	c.mu.Unlock()

	for _, sub := range snapshot {
		sub.deliver(event)
	}
}

func splitFrameLine(line string) (string, string) {
	idx := strings.Index(line, ":")
	if idx == -1 {
		return line, ""
	}
	field := line[:idx]
	value := line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}
