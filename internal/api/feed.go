package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/infrastructure/config"
	"github.com/nerrad567/momcore/internal/infrastructure/logging"
	"github.com/nerrad567/momcore/internal/protocol"
)

// Feed frame types. Clients send subscribe, unsubscribe and ping; the
// server sends ack, pong, event and error.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
	MsgPong        = "pong"
	MsgAck         = "ack"
	MsgEvent       = "event"
	MsgError       = "error"
)

// AllTypes in a filter matches every event type.
const AllTypes event.Type = "*"

// feedBuffer is the per-client outbound frame buffer. A client that falls
// this far behind loses events rather than stalling the drain loop.
const feedBuffer = 256

// FeedMessage is one frame on the event feed.
//
//	{"type":"subscribe","id":"1","filter":{"types":["presence.changed"],"names":["alice"]}}
//	{"type":"ack","id":"1","filter":{"types":["presence.changed"],"names":["alice"]}}
//	{"type":"event","event":{"type":"presence.changed","name":"alice",...}}
type FeedMessage struct {
	Type   string       `json:"type"`
	ID     string       `json:"id,omitempty"`
	Filter *FeedFilter  `json:"filter,omitempty"`
	Event  *event.Event `json:"event,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// FeedFilter selects events by type and, optionally, by entity name. An
// empty Names list matches every name.
type FeedFilter struct {
	Types []event.Type `json:"types"`
	Names []string     `json:"names,omitempty"`
}

// validate rejects unknown event types and malformed names.
func (f FeedFilter) validate() error {
	var unknown []string
	for _, t := range f.Types {
		if t != AllTypes && !t.Known() {
			unknown = append(unknown, string(t))
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown event types: %s", strings.Join(unknown, ", "))
	}
	for _, n := range f.Names {
		if err := protocol.ValidateName(protocol.KindUser, n); err != nil {
			return err
		}
	}
	return nil
}

// Feed relays session events to WebSocket clients according to each
// client's filter.
type Feed struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex // guards clients and sends on their out channels
	clients map[*feedClient]struct{}
}

// NewFeed creates an empty feed.
func NewFeed(cfg config.WebSocketConfig, logger *logging.Logger) *Feed {
	return &Feed{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*feedClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (f *Feed) Run(ctx context.Context) {
	<-ctx.Done()

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		delete(f.clients, c)
		close(c.out)
		c.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (f *Feed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Observe implements event.Observer. It runs on the drain loop and never
// blocks: a client whose buffer is full misses the event.
func (f *Feed) Observe(e event.Event) {
	data, err := json.Marshal(FeedMessage{Type: MsgEvent, Event: &e})
	if err != nil {
		f.logger.Error("encoding feed event", "type", e.Type, "error", err)
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for c := range f.clients {
		if !c.matches(e) {
			continue
		}
		select {
		case c.out <- data:
		default:
			f.logger.Debug("feed client behind, event dropped", "subject", c.subject, "type", e.Type)
		}
	}
}

func (f *Feed) add(conn *websocket.Conn, subject string) *feedClient {
	c := &feedClient{
		feed:    f,
		conn:    conn,
		subject: subject,
		out:     make(chan []byte, feedBuffer),
		types:   make(map[event.Type]struct{}),
		names:   make(map[string]struct{}),
	}
	f.mu.Lock()
	f.clients[c] = struct{}{}
	n := len(f.clients)
	f.mu.Unlock()

	f.logger.Debug("feed client connected", "subject", subject, "clients", n)
	return c
}

// remove detaches c and closes its out channel. Safe to call twice.
func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	_, ok := f.clients[c]
	if ok {
		delete(f.clients, c)
		close(c.out)
	}
	n := len(f.clients)
	f.mu.Unlock()

	if ok {
		f.logger.Debug("feed client disconnected", "subject", c.subject, "clients", n)
	}
}

// send queues a frame for c unless it has gone or is full.
func (f *Feed) send(c *feedClient, msg FeedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, ok := f.clients[c]; !ok {
		return
	}
	select {
	case c.out <- data:
	default:
	}
}

// feedClient is one WebSocket connection and its filter.
type feedClient struct {
	feed    *Feed
	conn    *websocket.Conn
	subject string
	out     chan []byte

	mu    sync.RWMutex
	all   bool
	types map[event.Type]struct{}
	names map[string]struct{}
}

func (c *feedClient) matches(e event.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.types[e.Type]; !ok && !c.all {
		return false
	}
	if len(c.names) == 0 {
		return true
	}
	_, ok := c.names[e.Name]
	return ok
}

// apply adds or removes the filter's entries and returns the resulting
// filter.
func (c *feedClient) apply(add bool, f FeedFilter) FeedFilter {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range f.Types {
		switch {
		case t == AllTypes:
			c.all = add
		case add:
			c.types[t] = struct{}{}
		default:
			delete(c.types, t)
		}
	}
	for _, n := range f.Names {
		if add {
			c.names[n] = struct{}{}
		} else {
			delete(c.names, n)
		}
	}

	var cur FeedFilter
	if c.all {
		cur.Types = append(cur.Types, AllTypes)
	}
	for _, t := range event.Types() {
		if _, ok := c.types[t]; ok {
			cur.Types = append(cur.Types, t)
		}
	}
	for n := range c.names {
		cur.Names = append(cur.Names, n)
	}
	slices.Sort(cur.Names)
	return cur
}

func (c *feedClient) handle(msg FeedMessage) {
	switch msg.Type {
	case MsgSubscribe, MsgUnsubscribe:
		if msg.Filter == nil {
			c.fail(msg.ID, "filter is required")
			return
		}
		if err := msg.Filter.validate(); err != nil {
			c.fail(msg.ID, err.Error())
			return
		}
		cur := c.apply(msg.Type == MsgSubscribe, *msg.Filter)
		c.feed.logger.Debug("feed filter changed", "subject", c.subject, "types", cur.Types, "names", cur.Names)
		c.feed.send(c, FeedMessage{Type: MsgAck, ID: msg.ID, Filter: &cur})
	case MsgPing:
		c.feed.send(c, FeedMessage{Type: MsgPong, ID: msg.ID})
	default:
		c.fail(msg.ID, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (c *feedClient) fail(id, reason string) {
	c.feed.send(c, FeedMessage{Type: MsgError, ID: id, Error: reason})
}

// readLoop decodes client frames until the connection fails. Any frame,
// not only a pong, extends the read deadline.
func (c *feedClient) readLoop() {
	defer func() {
		c.feed.remove(c)
		c.conn.Close()
	}()

	cfg := c.feed.cfg
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(wait)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	c.conn.SetPongHandler(extend)
	_ = extend("")

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.feed.logger.Warn("feed read failed", "subject", c.subject, "error", err)
			}
			return
		}
		_ = extend("")

		var msg FeedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.fail("", "malformed frame")
			continue
		}
		c.handle(msg)
	}
}

// writeLoop drains out and keeps the connection alive with pings. It
// exits when out is closed or a write fails.
func (c *feedClient) writeLoop() {
	cfg := c.feed.cfg
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleWebSocket redeems the ticket in the query string and upgrades the
// connection to the event feed. Tickets come from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("ticket")
	if id == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	subject, ok := s.tickets.redeem(id)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.feedOriginAllowed,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("feed upgrade failed", "subject", subject, "error", err)
		return
	}

	c := s.feed.add(conn, subject)
	go c.writeLoop()
	go c.readLoop()
}

// feedOriginAllowed accepts requests without an Origin header (non-browser
// clients), origins on the CORS allow list, and otherwise only the API's
// own host.
func (s *Server) feedOriginAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.cfg.CORS.AllowedOrigins) > 0 {
		return s.isAllowedOrigin(origin)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
