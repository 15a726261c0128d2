package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/ordersvc/internal/apperr"
	"github.com/lalith-99/ordersvc/internal/events"
	"github.com/lalith-99/ordersvc/internal/middleware"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamHandler pushes the caller's order events over a websocket. Each
// connection subscribes on its own and sees only its tenant's events.
type StreamHandler struct {
	sub      events.Subscriber
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamHandler serves the live feed from sub.
func NewStreamHandler(sub events.Subscriber, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		sub: sub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bearer token already gates this route; browsers on any
			// origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Stream handles GET /v1/orders/stream
func (h *StreamHandler) Stream(c *gin.Context) {
	p, ok := middleware.MustPrincipal(c)
	if !ok {
		return
	}
	if h.sub == nil {
		respondError(c, h.logger, apperr.New(apperr.KindInternal, "order feed is not configured"))
		return
	}

	// The request context ends when the handler returns, so the stream
	// lives on its own context tied to the connection.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	stream, err := h.sub.Subscribe(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	defer stream.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(
		zap.String("tenant_id", p.TenantID.String()),
		zap.String("user_id", p.SubjectID.String()),
	)
	log.Info("order feed connected")
	defer log.Info("order feed disconnected")

	// Reader: handles pongs and notices when the client goes away.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	tenant := p.TenantID.String()
	envs := make(chan events.Envelope)
	go func() {
		defer close(envs)
		for {
			env, err := stream.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("order feed read", zap.Error(err))
				}
				return
			}
			if env.TenantID != tenant {
				continue
			}
			select {
			case envs <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	// All writes happen on this goroutine.
	for {
		select {
		case env, ok := <-envs:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Debug("order feed write", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
