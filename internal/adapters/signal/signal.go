package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mirror/internal/app/relay"
	"github.com/dkeye/Mirror/internal/config"
	"github.com/dkeye/Mirror/internal/core"
	"github.com/dkeye/Mirror/internal/domain"
)

var ErrClosed = errors.New("connection closed")

type Settings struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		PongWait:     cfg.PongWait,
		WriteTimeout: cfg.WriteTimeout,
		SendBuffer:   cfg.SendBuffer,
	}
}

type SignalWSController struct {
	Relay    *relay.Relay
	settings Settings
}

func NewSignalWSController(r *relay.Relay, s Settings) *SignalWSController {
	if s.SendBuffer <= 0 {
		s.SendBuffer = 32
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 5 * time.Second
	}
	if s.PongWait <= 0 {
		s.PongWait = 60 * time.Second
	}
	if s.PingPeriod <= 0 || s.PingPeriod >= s.PongWait {
		s.PingPeriod = (s.PongWait * 9) / 10
	}
	return &SignalWSController{Relay: r, settings: s}
}

// WsSignalConn is one participant's relay endpoint. It implements core.SignalConnection.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	pid := domain.NewParticipantID()
	log.Info().Str("module", "signal").Str("sid", string(pid)).Str("remote", ws.RemoteAddr().String()).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.settings.SendBuffer),
	}
	ctl.Relay.Connect(pid, c.ClientIP(), conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, pid, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, pid, conn)
	}()
}
