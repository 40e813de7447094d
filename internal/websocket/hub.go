package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/entities"
	"github.com/satriahrh/turnloop/internal/config"
	"github.com/satriahrh/turnloop/internal/observe"
	"github.com/satriahrh/turnloop/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	sendBuffer = 256
)

var errClientClosed = errors.New("client closed")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of active clients
type Hub struct {
	// Registered clients, keyed by session ID.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	// ctx parents every client; cancelled when Run returns.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	controllers *usecase.SessionControllerFactory
	defaults    config.SessionConfig
	metrics     *observe.Metrics
	logger      *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(
	controllers *usecase.SessionControllerFactory,
	defaults config.SessionConfig,
	metrics *observe.Metrics,
	logger *zap.Logger,
) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		controllers: controllers,
		defaults:    defaults,
		metrics:     metrics,
		logger:      logger,
	}
}

// Run starts the hub's main loop. When ctx is cancelled every client is
// closed and Run returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.cancel()

	for {
		select {
		case <-ctx.Done():
			h.mu.RLock()
			h.logger.Info("Hub stopping", zap.Int("clients", len(h.clients)))
			h.mu.RUnlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.session.ID] = client
			h.mu.Unlock()
			h.metrics.ActiveSessions.Add(ctx, 1)
			h.logger.Info("Client registered", zap.String("sessionID", client.session.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.session.ID]; ok {
				delete(h.clients, client.session.ID)
				h.metrics.ActiveSessions.Add(ctx, -1)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("sessionID", client.session.ID))
		}
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients returns a snapshot of the registered clients
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// HandleWebSocket upgrades the request and serves one voice session on it.
// Query parameters override the session defaults for this connection only.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	settings, err := SettingsFromQuery(h.defaults, c.QueryParams())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	session := entities.NewSession(settings)
	ctx, cancel := context.WithCancel(h.ctx)

	client := &Client{
		hub:            h,
		conn:           conn,
		send:           make(chan WriteData, sendBuffer),
		ctx:            ctx,
		cancel:         cancel,
		session:        session,
		audioTransport: h.defaults.AudioTransport,
		logger:         h.logger.With(zap.String("sessionID", session.ID)),
	}
	client.controller = h.controllers.New(session, client)

	select {
	case h.register <- client:
	case <-h.done:
		cancel()
		conn.Close()
		return nil
	}

	client.logger.Info("Voice session opened",
		zap.String("remoteAddr", c.RealIP()),
		zap.Bool("synthesisEnabled", settings.SynthesisEnabled),
		zap.Float64("thresholdDB", settings.ThresholdDB),
		zap.Duration("silenceDuration", settings.SilenceDuration),
		zap.String("encoding", settings.Encoding))

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.serve()

	return nil
}

// SettingsFromQuery applies per-connection overrides to the defaults
func SettingsFromQuery(defaults config.SessionConfig, q url.Values) (entities.SessionSettings, error) {
	settings := entities.SessionSettings{
		SynthesisEnabled: defaults.SynthesisEnabled,
		VoiceID:          defaults.VoiceID,
		ThresholdDB:      defaults.SilenceThresholdDB,
		SilenceDuration:  defaults.SilenceDuration,
		Language:         defaults.Language,
		Encoding:         defaults.Encoding,
		SampleRate:       defaults.SampleRate,
	}

	if v := q.Get("tts"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return settings, fmt.Errorf("invalid tts %q", v)
		}
		settings.SynthesisEnabled = enabled
	}
	if v := q.Get("voice"); v != "" {
		settings.VoiceID = v
	}
	if v := q.Get("threshold_db"); v != "" {
		db, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return settings, fmt.Errorf("invalid threshold_db %q", v)
		}
		settings.ThresholdDB = db
	}
	if v := q.Get("silence_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return settings, fmt.Errorf("invalid silence_ms %q", v)
		}
		settings.SilenceDuration = time.Duration(ms) * time.Millisecond
	}
	if v := q.Get("encoding"); v != "" {
		settings.Encoding = v
	}
	if v := q.Get("sample_rate"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil {
			return settings, fmt.Errorf("invalid sample_rate %q", v)
		}
		settings.SampleRate = rate
	}
	if v := q.Get("language"); v != "" {
		settings.Language = v
	}

	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// Client is a middleman between the websocket connection and the session
// controller. It implements usecase.Transport.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// ctx ends the client; cancel is safe to call more than once.
	ctx    context.Context
	cancel context.CancelFunc

	session        *entities.Session
	controller     *usecase.SessionController
	audioTransport string

	logger *zap.Logger
}

var _ usecase.Transport = (*Client)(nil)

// Session returns the client's session
func (c *Client) Session() *entities.Session {
	return c.session
}

// Close ends the client's session and connection
func (c *Client) Close() {
	c.cancel()
}

// Send queues an outbound message for the write pump
func (c *Client) Send(msg domain.OutboundMessage) error {
	data, err := Encode(msg, c.audioTransport)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return errClientClosed
	}
}

// serve runs the read pump, the write pump and the session controller
// until any of them stops
func (c *Client) serve() {
	g, ctx := errgroup.WithContext(c.ctx)

	// Unblock Send as soon as any member stops.
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	g.Go(func() error { return c.readPump(ctx) })
	g.Go(func() error { return c.writePump(ctx) })
	g.Go(func() error { return c.controller.Run(ctx) })

	err := g.Wait()
	c.cancel()

	c.logger.Info("Voice session closed",
		zap.Duration("age", time.Since(c.session.CreatedAt)),
		zap.NamedError("cause", err))

	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// readPump pumps messages from the websocket connection to the controller.
func (c *Client) readPump(ctx context.Context) error {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return fmt.Errorf("read: %w", err)
		}

		var in Inbound
		switch messageType {
		case websocket.TextMessage:
			in, err = DecodeText(message, time.Now())
		case websocket.BinaryMessage:
			var chunk entities.AudioChunk
			chunk, err = DecodeBinary(message, c.session.Settings(), time.Now())
			in.Audio = &chunk
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
			continue
		}

		if err != nil {
			c.logger.Debug("Rejected inbound message", zap.Error(err))
			status := DecodeErrorStatus(err)
			status.SessionID = c.session.ID
			if sendErr := c.Send(status); sendErr != nil {
				return sendErr
			}
			continue
		}

		switch {
		case in.Audio != nil:
			err = c.controller.HandleAudio(ctx, *in.Audio)
		case in.Control != nil:
			err = c.controller.HandleControl(ctx, *in.Control)
		}
		if err != nil {
			return err
		}
	}
}

// writePump pumps messages from the controller to the websocket connection.
func (c *Client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return fmt.Errorf("write: %w", err)
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}
