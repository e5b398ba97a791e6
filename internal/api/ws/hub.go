package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/peb/internal/api/middleware"
	"github.com/GriffinCanCode/peb/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/peb/internal/render"
	"github.com/GriffinCanCode/peb/internal/shared/id"
	"github.com/GriffinCanCode/peb/internal/ui"
	"github.com/GriffinCanCode/peb/internal/window"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
	backlogSize    = 32

	// DefaultAckTimeout bounds how long acknowledged requests wait.
	DefaultAckTimeout = 10 * time.Second
)

// ErrSlowConsumer is returned when a stream's send buffer is full; the
// stream is dropped.
var ErrSlowConsumer = errors.New("viewer stream too slow")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || middleware.IsLoopbackOrigin(origin)
	},
}

type pendingRequest struct {
	conn  *conn
	reply chan Inbound
}

// Hub tracks viewer streams per window. It implements ui.Host and
// render.Sink for the shell.
type Hub struct {
	mu      sync.Mutex
	conns   map[id.WindowID][]*conn // newest last
	pending map[string]pendingRequest
	backlog map[id.WindowID][][]byte
	exists  func(id.WindowID) bool
	closed  bool

	ackTimeout time.Duration
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

// NewHub creates a hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:      make(map[id.WindowID][]*conn),
		pending:    make(map[string]pendingRequest),
		backlog:    make(map[id.WindowID][][]byte),
		ackTimeout: DefaultAckTimeout,
		logger:     logger,
	}
}

// WithMetrics adds metrics tracking to the hub.
func (h *Hub) WithMetrics(metrics *monitoring.Metrics) *Hub {
	h.metrics = metrics
	return h
}

// WithAckTimeout sets the acknowledgement bound for printing and theme
// requests.
func (h *Hub) WithAckTimeout(d time.Duration) *Hub {
	h.ackTimeout = d
	return h
}

// Bind attaches the hub to a window manager: streams are only accepted for
// open windows and are dropped when their window closes.
func (h *Hub) Bind(windows *window.Manager) {
	h.mu.Lock()
	h.exists = func(w id.WindowID) bool {
		_, ok := windows.Get(w)
		return ok
	}
	h.mu.Unlock()
	windows.OnClose(h.DropWindow)
}

// HandleStream upgrades GET /windows/:id/stream.
func (h *Hub) HandleStream(c *gin.Context) {
	windowID := id.WindowID(c.Param("id"))
	if !h.windowExists(windowID) {
		c.JSON(http.StatusNotFound, gin.H{"error": window.ErrNotFound.Error(), "window_id": windowID})
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("window_id", windowID.String()), zap.Error(err))
		return
	}

	cn := newConn(wsConn, windowID)
	if !h.register(cn) {
		cn.close()
		_ = wsConn.Close()
		return
	}
	defer h.unregister(cn)

	go h.writePump(cn)
	h.readPump(cn)
}

// Deliver implements render.Sink.
func (h *Hub) Deliver(d render.Delivery) {
	windowID := id.WindowID(d.WindowID)
	data, err := sonic.Marshal(Outbound{Type: TypeDelivery, WindowID: windowID, Delivery: &d})
	if err != nil {
		h.logger.Error("Failed to encode delivery", zap.Error(err))
		return
	}

	h.mu.Lock()
	targets := append([]*conn(nil), h.conns[windowID]...)
	if len(targets) == 0 {
		h.holdLocked(windowID, data)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := h.send(c, data, TypeDelivery); err != nil {
			h.logger.Debug("Delivery dropped", zap.String("window_id", d.WindowID), zap.Error(err))
		}
	}
}

// holdLocked keeps the newest deliveries for a window that has no stream yet.
func (h *Hub) holdLocked(windowID id.WindowID, data []byte) {
	if h.closed || (h.exists != nil && !h.exists(windowID)) {
		h.logger.Debug("Delivery for unknown window dropped", zap.String("window_id", windowID.String()))
		return
	}
	queue := append(h.backlog[windowID], data)
	if len(queue) > backlogSize {
		queue = queue[len(queue)-backlogSize:]
	}
	h.backlog[windowID] = queue
}

// DropWindow closes every stream of a window and forgets its backlog.
func (h *Hub) DropWindow(windowID id.WindowID) {
	h.mu.Lock()
	targets := h.conns[windowID]
	delete(h.conns, windowID)
	delete(h.backlog, windowID)
	h.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
}

// Close drops every stream. Later streams are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var targets []*conn
	for _, cs := range h.conns {
		targets = append(targets, cs...)
	}
	h.conns = make(map[id.WindowID][]*conn)
	h.backlog = make(map[id.WindowID][][]byte)
	h.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
}

// Connections returns the number of attached streams.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, cs := range h.conns {
		n += len(cs)
	}
	return n
}

func (h *Hub) windowExists(windowID id.WindowID) bool {
	h.mu.Lock()
	exists := h.exists
	h.mu.Unlock()
	return exists == nil || exists(windowID)
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.conns[c.window] = append(h.conns[c.window], c)
	held := h.backlog[c.window]
	delete(h.backlog, c.window)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
	h.logger.Info("Viewer attached", zap.String("window_id", c.window.String()), zap.Int("backlog", len(held)))

	for _, data := range held {
		if err := h.send(c, data, TypeDelivery); err != nil {
			break
		}
	}
	return true
}

func (h *Hub) unregister(c *conn) {
	c.close()

	h.mu.Lock()
	cs := h.conns[c.window]
	for i, other := range cs {
		if other == c {
			cs = append(cs[:i], cs[i+1:]...)
			break
		}
	}
	if len(cs) == 0 {
		delete(h.conns, c.window)
	} else {
		h.conns[c.window] = cs
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.DecWSConnections()
	}
	h.logger.Info("Viewer detached", zap.String("window_id", c.window.String()))
}

func (h *Hub) latest(windowID id.WindowID) *conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	cs := h.conns[windowID]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

// send queues data without blocking. A full buffer drops the stream.
func (h *Hub) send(c *conn, data []byte, msgType string) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: %s", ui.ErrNoViewer, c.window)
	default:
	}
	select {
	case c.out <- data:
		if h.metrics != nil {
			h.metrics.RecordWSMessage("out", msgType)
		}
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %s", ui.ErrNoViewer, c.window)
	default:
		h.logger.Warn("Dropping slow viewer stream", zap.String("window_id", c.window.String()))
		c.close()
		return ErrSlowConsumer
	}
}

func (h *Hub) sendMessage(c *conn, msg Outbound) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return h.send(c, data, msg.Type)
}

// notify sends a UI request that needs no answer.
func (h *Hub) notify(msg Outbound) error {
	c := h.latest(msg.WindowID)
	if c == nil {
		return fmt.Errorf("%w: %s", ui.ErrNoViewer, msg.WindowID)
	}
	msg.Type = TypeUIRequest
	return h.sendMessage(c, msg)
}

// request sends a UI request and waits for the correlated response. A zero
// timeout waits until ctx ends.
func (h *Hub) request(ctx context.Context, msg Outbound, timeout time.Duration) (Inbound, error) {
	c := h.latest(msg.WindowID)
	if c == nil {
		return Inbound{}, fmt.Errorf("%w: %s", ui.ErrNoViewer, msg.WindowID)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg.Type = TypeUIRequest
	msg.ID = uuid.NewString()
	msg.ExpectsResponse = true
	reply := make(chan Inbound, 1)

	h.mu.Lock()
	h.pending[msg.ID] = pendingRequest{conn: c, reply: reply}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, msg.ID)
		h.mu.Unlock()
	}()

	if err := h.sendMessage(c, msg); err != nil {
		return Inbound{}, err
	}

	select {
	case resp := <-reply:
		switch {
		case resp.Cancelled:
			return resp, ui.ErrCancelled
		case resp.Error != "":
			return resp, fmt.Errorf("viewer %s failed: %s", msg.Op, resp.Error)
		}
		return resp, nil
	case <-c.done:
		return Inbound{}, fmt.Errorf("%w: %s", ui.ErrNoViewer, msg.WindowID)
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	}
}

func (h *Hub) resolve(c *conn, in Inbound) {
	h.mu.Lock()
	p, ok := h.pending[in.ID]
	h.mu.Unlock()
	if !ok || p.conn != c {
		h.logger.Debug("Unmatched UI response", zap.String("window_id", c.window.String()), zap.String("id", in.ID))
		return
	}
	select {
	case p.reply <- in:
	default:
	}
}

func (h *Hub) readPump(c *conn) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Viewer stream error", zap.String("window_id", c.window.String()), zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var in Inbound
		if err := sonic.Unmarshal(data, &in); err != nil {
			_ = h.sendMessage(c, Outbound{Type: TypeError, Message: "invalid message"})
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", in.Type)
		}

		switch in.Type {
		case TypePing:
			_ = h.sendMessage(c, Outbound{Type: TypePong})
		case TypeUIResponse:
			h.resolve(c, in)
		default:
			_ = h.sendMessage(c, Outbound{Type: TypeError, Message: "unknown message type: " + in.Type})
		}
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// conn is one viewer stream.
type conn struct {
	ws     *websocket.Conn
	window id.WindowID
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func newConn(ws *websocket.Conn, windowID id.WindowID) *conn {
	return &conn{
		ws:     ws,
		window: windowID,
		out:    make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}
