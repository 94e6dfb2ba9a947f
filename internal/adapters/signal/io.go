package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mirror/internal/domain"
)

// writePump is the only writer on the connection. A write that misses its
// deadline ends the pump and closes the socket, which ends readPump too.
func (ctl *SignalWSController) writePump(ctx context.Context, pid domain.ParticipantID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.settings.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(pid)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.settings.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(pid)).Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(pid)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.settings.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(pid)).Msg("ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, pid domain.ParticipantID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(pid)).Msg("readPump closing")
		ctl.Relay.Disconnect(pid)
		c.Close()
	}()

	if ctl.settings.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.settings.ReadLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.settings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.settings.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(pid)).Msg("readPump ctx done")
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(pid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.settings.PongWait))
		ctl.Relay.HandleFrame(pid, data)
	}
}
