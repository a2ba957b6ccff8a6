package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"chatmatch-service/internal/notify"
	"chatmatch-service/internal/service/match"
	pkgAuth "chatmatch-service/pkg/auth"
	"chatmatch-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	frameHeartbeat    = "heartbeat"
	eventHeartbeatAck = "heartbeat-ack"
	eventError        = "error"
)

type Handler struct {
	matchSvc *match.Service
	sub      notify.Subscriber
}

func NewHandler(matchSvc *match.Service, sub notify.Subscriber) *Handler {
	return &Handler{matchSvc: matchSvc, sub: sub}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// HandleNotificationsWS streams the caller's notification channel and
// accepts heartbeat frames in place of the HTTP heartbeat endpoint.
func (h *Handler) HandleNotificationsWS(c *gin.Context) {
	token, err := getTokenFromRequest(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	claims, err := pkgAuth.ParseAnonToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	userID := claims.SubjectID

	ctx, cancel := context.WithCancel(context.Background())
	events, stop, err := h.sub.Subscribe(ctx, userID)
	if err != nil {
		cancel()
		logger.Log.Error("Failed to subscribe notifications", zap.String("userID", userID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications unavailable"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		stop()
		cancel()
		logger.Log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	logger.Log.Info("New WebSocket connection", zap.String("userID", userID))

	client := newClient(conn, userID, h.matchSvc, events)
	client.run()
	stop()
	cancel()
}

func getTokenFromRequest(c *gin.Context) (string, error) {
	token := strings.TrimSpace(c.Query("token"))
	if token != "" {
		return token, nil
	}
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = strings.TrimSpace(parts[1])
			if token != "" {
				return token, nil
			}
		}
	}
	return "", errors.New("missing token")
}

type client struct {
	conn      *websocket.Conn
	userID    string
	matchSvc  *match.Service
	events    <-chan notify.Message
	replies   chan notify.Message
	done      chan struct{}
	pingEvery time.Duration
}

func newClient(conn *websocket.Conn, userID string, matchSvc *match.Service, events <-chan notify.Message) *client {
	conn.SetReadLimit(4 << 10)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	return &client{
		conn:      conn,
		userID:    userID,
		matchSvc:  matchSvc,
		events:    events,
		replies:   make(chan notify.Message, 8),
		done:      make(chan struct{}),
		pingEvery: 25 * time.Second,
	}
}

// run blocks until the connection closes.
func (c *client) run() {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		c.writePump()
	}()
	c.readPump()
	<-finished
}

func (c *client) readPump() {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	for {
		mt, message, err := c.conn.ReadMessage()
		if err != nil {
			logger.Log.Info("WS read error", zap.Error(err), zap.String("userID", c.userID))
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var incoming struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &incoming); err != nil {
			c.reply(eventError, gin.H{"message": "invalid payload"})
			continue
		}

		switch incoming.Type {
		case frameHeartbeat:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			active, err := c.matchSvc.Heartbeat(ctx, c.userID)
			cancel()
			if err != nil {
				logger.Log.Warn("WS heartbeat failed", zap.String("userID", c.userID), zap.Error(err))
				c.reply(eventError, gin.H{"message": "heartbeat failed"})
				continue
			}
			c.reply(eventHeartbeatAck, gin.H{"active": active})
		case "":
		default:
			c.reply(eventError, gin.H{"message": "unknown frame type"})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.events:
			if !ok {
				return
			}
			if !c.write(msg) {
				return
			}
		case msg := <-c.replies:
			if !c.write(msg) {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) write(msg notify.Message) bool {
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteJSON(msg); err != nil {
		logger.Log.Info("WS write error", zap.Error(err), zap.String("userID", c.userID))
		return false
	}
	return true
}

// reply queues a frame for the write pump; gorilla connections allow one writer.
func (c *client) reply(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := notify.Message{Event: event, Payload: raw, SentAt: time.Now().UTC()}
	select {
	case c.replies <- msg:
	default:
		logger.Log.Warn("WS reply dropped", zap.String("userID", c.userID), zap.String("event", event))
	}
}
