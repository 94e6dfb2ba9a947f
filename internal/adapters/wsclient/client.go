// Package wsclient is the participant side of the signaling transport.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mirror/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

var ErrClosed = errors.New("signaling connection closed")

type Options struct {
	URL         string
	DialTimeout time.Duration
}

type Dialer struct {
	opts Options
}

func NewDialer(opts Options) *Dialer {
	return &Dialer{opts: opts}
}

// Conn is one WebSocket session with the relay. Incoming is closed when the
// connection ends; Done is closed at the same time and Err tells why.
type Conn struct {
	ws       *websocket.Conn
	incoming chan protocol.Envelope
	outgoing chan []byte
	done     chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// Dial connects to the relay and starts the pumps.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	u, err := url.Parse(d.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	if d.opts.DialTimeout > 0 {
		dialer.HandshakeTimeout = d.opts.DialTimeout
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Conn{
		ws:       ws,
		incoming: make(chan protocol.Envelope, sendBuffer),
		outgoing: make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	log.Debug().Str("module", "wsclient").Str("url", u.String()).Msg("connected")
	return c, nil
}

func (c *Conn) Incoming() <-chan protocol.Envelope { return c.incoming }

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send queues env for the write pump.
func (c *Conn) Send(env protocol.Envelope) error {
	b, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- b:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Close ends the session locally; Err stays nil.
func (c *Conn) Close() error {
	c.finish(nil)
	return nil
}

func (c *Conn) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Conn) readPump() {
	defer func() {
		close(c.incoming)
		_ = c.ws.Close()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Debug().Err(err).Str("module", "wsclient").Msg("read failed")
				c.finish(err)
			}
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Msg("bad message from relay")
			continue
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.finish(err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.finish(err)
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
