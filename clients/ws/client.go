// Package ws provides a WebSocket client for the sextant gateway.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/sextant-io/sextant/internal/events"
	"github.com/sextant-io/sextant/internal/executor"
	wsprotocol "github.com/sextant-io/sextant/internal/gateway/ws"
	"github.com/sextant-io/sextant/internal/journal"
	"github.com/sextant-io/sextant/internal/registry"
	"github.com/sextant-io/sextant/internal/scheduler"
)

// ErrClosed is returned by calls made after the connection ended.
var ErrClosed = errors.New("ws client: connection closed")

// Client is a WebSocket client for the sextant gateway. One read loop
// routes response frames to their pending Call and event frames to the
// Events channel.
type Client struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	reqSeq uint64

	mu      sync.Mutex
	pending map[string]chan wsprotocol.Frame
	readErr error

	events chan events.Event
	done   chan struct{}
}

// Dial connects to the gateway WebSocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(context.Background())

	c := &Client{
		conn:    conn,
		ctx:     clientCtx,
		cancel:  cancel,
		pending: make(map[string]chan wsprotocol.Frame),
		events:  make(chan events.Event, 64),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers the event frames the client subscribed to. The channel
// closes when the connection ends; events are dropped if the consumer lags.
func (c *Client) Events() <-chan events.Event {
	return c.events
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}

		frame, err := wsprotocol.UnmarshalFrame(data)
		if err != nil {
			continue
		}

		switch frame.Type {
		case wsprotocol.FrameTypeResponse:
			c.mu.Lock()
			ch := c.pending[frame.ID]
			delete(c.pending, frame.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- frame // buffered, never blocks
			}

		case wsprotocol.FrameTypeEvent:
			var e events.Event
			if err := json.Unmarshal(frame.Payload, &e); err != nil {
				continue
			}
			select {
			case c.events <- e:
			default:
			}
		}
	}
}

// Call sends a request frame and blocks until its response arrives, ctx
// expires, or the connection ends. It returns the response payload.
func (c *Client) Call(ctx context.Context, method wsprotocol.Method, params any) (json.RawMessage, error) {
	seq := atomic.AddUint64(&c.reqSeq, 1)
	id := fmt.Sprintf("req-%d", seq)

	frame := wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     id,
		Method: string(method),
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		frame.Params = data
	}

	data, err := wsprotocol.MarshalFrame(frame)
	if err != nil {
		return nil, err
	}

	ch := make(chan wsprotocol.Frame, 1)
	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrClosed, err)
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		if res.OK == nil || !*res.OK {
			return nil, fmt.Errorf("gateway: %s", res.Error)
		}
		return res.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

type goalParams struct {
	Executor string `json:"executor,omitempty"`
	executor.Goal
}

// Submit submits a goal and returns its assigned ID.
func (c *Client) Submit(ctx context.Context, executorName string, g executor.Goal) (string, error) {
	payload, err := c.Call(ctx, wsprotocol.MethodGoalSubmit, goalParams{Executor: executorName, Goal: g})
	if err != nil {
		return "", err
	}
	return goalID(payload)
}

// Interrupt asks the named executor to interrupt its active goal.
func (c *Client) Interrupt(ctx context.Context, executorName string) (string, error) {
	payload, err := c.Call(ctx, wsprotocol.MethodGoalInterrupt, executorOnly(executorName))
	if err != nil {
		return "", err
	}
	return goalID(payload)
}

// Resume asks the named executor to continue its interrupted goal.
func (c *Client) Resume(ctx context.Context, executorName string) (string, error) {
	payload, err := c.Call(ctx, wsprotocol.MethodGoalResume, executorOnly(executorName))
	if err != nil {
		return "", err
	}
	return goalID(payload)
}

// Statuses reports every executor's current state.
func (c *Client) Statuses(ctx context.Context) ([]registry.Status, error) {
	payload, err := c.Call(ctx, wsprotocol.MethodStatusGet, nil)
	if err != nil {
		return nil, err
	}
	var list []registry.Status
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("decode statuses: %w", err)
	}
	return list, nil
}

// History returns the most recently submitted goals, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]journal.GoalRecord, error) {
	payload, err := c.Call(ctx, wsprotocol.MethodHistoryRecent, map[string]int{"limit": limit})
	if err != nil {
		return nil, err
	}
	var list []journal.GoalRecord
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return list, nil
}

// Schedules lists the scheduler's entries.
func (c *Client) Schedules(ctx context.Context) ([]*scheduler.ScheduleEntry, error) {
	payload, err := c.Call(ctx, wsprotocol.MethodScheduleList, nil)
	if err != nil {
		return nil, err
	}
	var list []*scheduler.ScheduleEntry
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}
	return list, nil
}

// AddSchedule registers a schedule entry and returns it with its assigned ID.
func (c *Client) AddSchedule(ctx context.Context, entry *scheduler.ScheduleEntry) (*scheduler.ScheduleEntry, error) {
	payload, err := c.Call(ctx, wsprotocol.MethodScheduleAdd, entry)
	if err != nil {
		return nil, err
	}
	var created scheduler.ScheduleEntry
	if err := json.Unmarshal(payload, &created); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	return &created, nil
}

// RemoveSchedule deletes a schedule entry by ID.
func (c *Client) RemoveSchedule(ctx context.Context, id string) error {
	_, err := c.Call(ctx, wsprotocol.MethodScheduleRemove, map[string]string{"id": id})
	return err
}

// Subscribe starts event delivery. With no types, everything is delivered.
func (c *Client) Subscribe(ctx context.Context, eventTypes ...string) error {
	_, err := c.Call(ctx, wsprotocol.MethodSubscribe, map[string][]string{"events": eventTypes})
	return err
}

// Unsubscribe stops event delivery. With no types, everything is stopped.
func (c *Client) Unsubscribe(ctx context.Context, eventTypes ...string) error {
	_, err := c.Call(ctx, wsprotocol.MethodUnsubscribe, map[string][]string{"events": eventTypes})
	return err
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func goalID(payload json.RawMessage) (string, error) {
	var res struct {
		GoalID string `json:"goal_id"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return res.GoalID, nil
}

func executorOnly(name string) any {
	if name == "" {
		return nil
	}
	return map[string]string{"executor": name}
}
