// Package ws bridges the event bus and goal operations to WebSocket clients
// speaking a small req/res/event frame protocol.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/sextant-io/sextant/internal/events"
	"github.com/sextant-io/sextant/internal/executor"
)

// GoalHandler answers request frames. The gateway package implements it over
// the registry, journal, and scheduler so the hub stays decoupled from them.
type GoalHandler interface {
	Submit(executorName string, g executor.Goal) (string, error)
	Interrupt(executorName string) (string, error)
	Resume(executorName string) (string, error)
	Statuses() any
	History(limit int) (any, error)
	Schedules() (any, error)
	AddSchedule(raw json.RawMessage) (any, error)
	RemoveSchedule(id string) error
}

// Client represents a connected WebSocket client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu     sync.Mutex
	all    bool
	topics map[string]bool
}

// wants reports whether the client subscribed to the event type.
func (c *Client) wants(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.all || c.topics[event]
}

func (c *Client) subscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(topics) == 0 {
		c.all = true
		return
	}
	for _, t := range topics {
		c.topics[t] = true
	}
}

func (c *Client) unsubscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(topics) == 0 {
		c.all = false
		c.topics = make(map[string]bool)
		return
	}
	for _, t := range topics {
		delete(c.topics, t)
	}
}

// Hub manages WebSocket clients and bridges them to the event bus.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	bus         *events.Bus
	handler     GoalHandler
	unsubscribe func()
}

// NewHub creates a WebSocket hub connected to an event bus. Clients receive
// no events until they send a subscribe request.
func NewHub(bus *events.Bus, handler GoalHandler) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		bus:     bus,
		handler: handler,
	}

	// Bridge every bus event to the subscribed WS clients
	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		frame, err := NewEventFrame(string(e.Type), e.Executor, e)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			return
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			return
		}
		h.broadcast(string(e.Type), data)
	})

	return h
}

// broadcast sends data to every client subscribed to the event type.
func (h *Hub) broadcast(event string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(event) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

// register adds a client to the hub.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

// unregister removes a client from the hub.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
		topics: make(map[string]bool),
	}

	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		c.handleFrame(ctx, frame)
	}
}

// handleFrame processes an incoming WS frame.
func (c *Client) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameTypeRequest:
		c.handleRequest(ctx, frame)
	default:
		slog.Debug("ws unknown frame type", "type", frame.Type)
	}
}

// handleRequest processes a request frame (method dispatch).
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	switch Method(frame.Method) {
	case MethodSubscribe:
		var params struct {
			Events []string `json:"events"`
		}
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				c.sendError(ctx, frame.ID, "invalid params")
				return
			}
		}
		c.subscribe(params.Events)
		c.sendOK(ctx, frame.ID, map[string]string{"status": "subscribed"})

	case MethodUnsubscribe:
		var params struct {
			Events []string `json:"events"`
		}
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				c.sendError(ctx, frame.ID, "invalid params")
				return
			}
		}
		c.unsubscribe(params.Events)
		c.sendOK(ctx, frame.ID, map[string]string{"status": "unsubscribed"})

	default:
		if c.hub.handler == nil {
			c.sendError(ctx, frame.ID, "goal operations not available")
			return
		}
		c.handleGoalRequest(ctx, frame)
	}
}

// handleGoalRequest dispatches methods that need the goal handler.
func (c *Client) handleGoalRequest(ctx context.Context, frame Frame) {
	h := c.hub.handler

	switch Method(frame.Method) {
	case MethodGoalSubmit:
		var params struct {
			Executor string `json:"executor"`
			executor.Goal
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(ctx, frame.ID, "invalid params")
			return
		}
		id, err := h.Submit(params.Executor, params.Goal)
		if err != nil {
			c.sendError(ctx, frame.ID, err.Error())
			return
		}
		c.sendOK(ctx, frame.ID, map[string]string{"goal_id": id})

	case MethodGoalInterrupt:
		id, err := h.Interrupt(executorParam(frame.Params))
		if err != nil {
			c.sendError(ctx, frame.ID, err.Error())
			return
		}
		c.sendOK(ctx, frame.ID, map[string]string{"goal_id": id})

	case MethodGoalResume:
		id, err := h.Resume(executorParam(frame.Params))
		if err != nil {
			c.sendError(ctx, frame.ID, err.Error())
			return
		}
		c.sendOK(ctx, frame.ID, map[string]string{"goal_id": id})

	case MethodStatusGet:
		c.sendOK(ctx, frame.ID, h.Statuses())

	case MethodHistoryRecent:
		var params struct {
			Limit int `json:"limit"`
		}
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				c.sendError(ctx, frame.ID, "invalid params")
				return
			}
		}
		list, err := h.History(params.Limit)
		if err != nil {
			c.sendError(ctx, frame.ID, err.Error())
			return
		}
		c.sendOK(ctx, frame.ID, list)

	case MethodScheduleList:
		list, err := h.Schedules()
		if err != nil {
			c.sendError(ctx, frame.ID, err.Error())
			return
		}
		c.sendOK(ctx, frame.ID, list)

	case MethodScheduleAdd:
		entry, err := h.AddSchedule(frame.Params)
		if err != nil {
			c.sendError(ctx, frame.ID, err.Error())
			return
		}
		c.sendOK(ctx, frame.ID, entry)

	case MethodScheduleRemove:
		var params struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(ctx, frame.ID, "invalid params")
			return
		}
		if err := h.RemoveSchedule(params.ID); err != nil {
			c.sendError(ctx, frame.ID, err.Error())
			return
		}
		c.sendOK(ctx, frame.ID, map[string]string{"status": "removed"})

	default:
		c.sendError(ctx, frame.ID, "unknown method: "+frame.Method)
	}
}

// executorParam extracts the optional executor name from request params.
func executorParam(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var params struct {
		Executor string `json:"executor"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return ""
	}
	return params.Executor
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(ctx context.Context, id string, payload any) {
	f, err := NewResponseFrame(id, true, payload, "")
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(ctx context.Context, id string, errMsg string) {
	f, err := NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
