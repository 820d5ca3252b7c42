package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/identity"
	"quizroom-service/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	commandTimeout = 10 * time.Second
)

// GatewayOptions tunes the websocket gateway.
type GatewayOptions struct {
	MessagesPerSecond float64
	Burst             int
	CheckOrigin       func(r *http.Request) bool
}

// WSHandler turns websocket frames into coordinator commands.
type WSHandler struct {
	coord    *app.Coordinator
	hub      *Hub
	tokens   *identity.Tokens
	log      *zap.Logger
	metrics  *metrics.Metrics
	limit    rate.Limit
	burst    int
	upgrader websocket.Upgrader
}

func NewWSHandler(coord *app.Coordinator, hub *Hub, tokens *identity.Tokens, log *zap.Logger, m *metrics.Metrics, opts GatewayOptions) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WSHandler{
		coord:   coord,
		hub:     hub,
		tokens:  tokens,
		log:     log,
		metrics: m,
		limit:   rate.Limit(opts.MessagesPerSecond),
		burst:   opts.Burst,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	Code     string `json:"code"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type answerPayload struct {
	QuestionIndex *int   `json:"questionIndex"`
	Answer        string `json:"answer"`
}

type errorPayload struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// conn is the per-connection state owned by the read loop.
type conn struct {
	client *client
	code   string
	token  *domain.Identity
	log    *zap.Logger
}

// ServeWS upgrades HTTP requests to websockets and wires them into the session coordinator.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	var token *domain.Identity
	if h.tokens.Enabled() {
		raw := r.URL.Query().Get("token")
		if raw == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		id, err := h.tokens.Resolve(raw)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		token = &id
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	c := &conn{
		client: &client{id: uuid.NewString(), send: make(chan []byte, sendBuffer)},
		token:  token,
	}
	c.log = h.log.With(zap.String("conn_id", c.client.id))
	h.metrics.Connections.Inc()
	defer h.metrics.Connections.Dec()
	c.log.Debug("connection opened", zap.String("remote", r.RemoteAddr))

	writerDone := make(chan struct{})
	go h.writeLoop(ws, c.client, writerDone)

	h.readLoop(ws, c)

	// Abrupt or clean disconnect both count as leaving.
	h.unbind(c)
	close(c.client.send)
	<-writerDone
	c.log.Debug("connection closed")
}

func (h *WSHandler) readLoop(ws *websocket.Conn, c *conn) {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	limiter := rate.NewLimiter(h.limit, h.burst)

	for {
		var inbound inboundMessage
		if err := ws.ReadJSON(&inbound); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				c.log.Debug("ws read ended", zap.Error(err))
			}
			return
		}
		if !limiter.Allow() {
			h.sendError(c, domain.KindBadRequest, "rate limit exceeded")
			continue
		}
		h.dispatch(c, inbound)
	}
}

func (h *WSHandler) writeLoop(ws *websocket.Conn, c *client, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				// unblock the reader; the handler then drains and closes send
				_ = ws.Close()
				drain(c.send)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = ws.Close()
				drain(c.send)
				return
			}
		}
	}
}

func drain(ch <-chan []byte) {
	for range ch {
	}
}

func (h *WSHandler) dispatch(c *conn, inbound inboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch inbound.Type {
	case "join":
		var p joinPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			h.sendError(c, domain.KindBadRequest, "invalid join payload")
			return
		}
		h.join(ctx, c, p)
	case "start":
		if !h.bound(c) {
			return
		}
		if _, err := h.coord.Start(ctx, c.code, c.client.userID); err != nil {
			h.sendErr(c, err)
		}
	case "submitAnswer":
		if !h.bound(c) {
			return
		}
		var p answerPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil || p.QuestionIndex == nil {
			h.sendError(c, domain.KindBadRequest, "invalid answer payload")
			return
		}
		// the private answerResult arrives through the hub
		if _, err := h.coord.SubmitAnswer(ctx, c.code, c.client.userID, *p.QuestionIndex, p.Answer); err != nil {
			h.sendErr(c, err)
		}
	case "end":
		if !h.bound(c) {
			return
		}
		if _, err := h.coord.End(ctx, c.code, c.client.userID); err != nil {
			h.sendErr(c, err)
		}
	case "leave":
		h.unbind(c)
	default:
		h.sendError(c, domain.KindBadRequest, "unsupported message type")
	}
}

func (h *WSHandler) join(ctx context.Context, c *conn, p joinPayload) {
	if c.token != nil {
		p.UserID = c.token.UserID
		p.Username = c.token.Username
	}
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	if p.Code == "" || p.UserID == "" || p.Username == "" {
		h.sendError(c, domain.KindBadRequest, "code, userId and username are required")
		return
	}
	if c.code != "" {
		h.unbind(c)
	}

	c.client.userID = p.UserID
	c.code = p.Code
	h.hub.attach(c.code, c.client)

	snap, err := h.coord.Join(ctx, p.Code, p.UserID, p.Username)
	if err != nil {
		h.hub.detach(c.code, c.client)
		c.code = ""
		h.sendErr(c, err)
		return
	}
	c.log.Info("joined session", zap.String("code", c.code), zap.String("user_id", p.UserID))
	h.send(c, outboundMessage[app.Snapshot]{Type: "joined", Payload: snap})
}

// unbind detaches the connection from its room. The participant leaves the
// session only when this was their last open connection to it.
func (h *WSHandler) unbind(c *conn) {
	if c.code == "" {
		return
	}
	code, userID := c.code, c.client.userID
	last := h.hub.detach(code, c.client)
	c.code = ""
	if !last {
		c.log.Debug("connection closed, participant still connected elsewhere", zap.String("code", code))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := h.coord.Leave(ctx, code, userID); err != nil {
		c.log.Warn("leave failed", zap.String("code", code), zap.Error(err))
	}
}

func (h *WSHandler) bound(c *conn) bool {
	if c.code == "" {
		h.sendError(c, domain.KindBadRequest, "join a session first")
		return false
	}
	return true
}

func (h *WSHandler) sendErr(c *conn, err error) {
	kind := domain.KindOf(err)
	msg := err.Error()
	if kind == domain.KindInternal {
		c.log.Error("command failed", zap.String("code", c.code), zap.Error(err))
		msg = "internal error"
	}
	h.sendError(c, kind, msg)
}

func (h *WSHandler) sendError(c *conn, kind domain.ErrorKind, message string) {
	h.send(c, outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Kind: kind, Message: message}})
}

func (h *WSHandler) send(c *conn, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("encode reply failed", zap.Error(err))
		return
	}
	select {
	case c.client.send <- data:
	default:
		c.log.Warn("dropping reply for slow connection")
	}
}
