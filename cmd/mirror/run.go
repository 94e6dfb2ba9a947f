package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Mirror/internal/adapters/rtc"
	"github.com/dkeye/Mirror/internal/adapters/wsclient"
	"github.com/dkeye/Mirror/internal/app/participant"
	"github.com/dkeye/Mirror/internal/config"
	"github.com/dkeye/Mirror/internal/domain"
	"github.com/dkeye/Mirror/internal/supervisor"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Share the RTP stream arriving on --rtp_listen",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, domain.RoleHost)
	},
}

var viewCmd = &cobra.Command{
	Use:     "view",
	Aliases: []string{"v"},
	Short:   "Watch the session's shared screen",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, domain.RoleViewer)
	},
}

func run(cmd *cobra.Command, role domain.Role) error {
	cfg, err := config.LoadClient(cmd.Flags())
	if err != nil {
		return err
	}

	api, err := rtc.NewAPI()
	if err != nil {
		return err
	}
	factory := &rtc.Factory{
		API:    api,
		Config: rtc.DefaultWebRTCConfig(cfg.ICEServers),
		Role:   role,
	}
	var source participant.Source
	if role == domain.RoleHost {
		src := rtc.NewUDPSource(cfg.RTPListen, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8})
		factory.Source = src
		source = src
	}

	ctl := participant.New(participant.Options{
		Role:               role,
		Session:            cfg.Session,
		Peers:              factory,
		Source:             source,
		NegotiationTimeout: cfg.NegotiationTimeout,
		Observer:           render,
	})
	defer ctl.Close()

	dialer := wsclient.NewDialer(wsclient.Options{URL: cfg.ServerURL, DialTimeout: cfg.DialTimeout})
	sup := supervisor.New(supervisor.DialFunc(func(ctx context.Context) (supervisor.Conn, error) {
		c, err := dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	}), supervisor.Options{
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxDelay:    cfg.Reconnect.MaxDelay,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		Jitter:      cfg.Reconnect.Jitter,
		OnState:     ctl.Observe,
		OnConnected: func(ctx context.Context, c supervisor.Conn) {
			ctl.Attach(ctx, c.(*wsclient.Conn))
		},
	})

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch role {
	case domain.RoleHost:
		if err := ctl.StartShare(ctx); err != nil {
			return err
		}
	case domain.RoleViewer:
		if err := ctl.JoinRoom(); err != nil {
			return err
		}
	}

	log.Info().Str("role", role.String()).Str("server", cfg.ServerURL).Str("session", cfg.Session).Msg("starting")
	err = sup.Run(ctx)
	sup.Shutdown()
	return err
}

func render(s participant.UIState) {
	ev := log.Info()
	if s.Status == participant.StatusError {
		ev = log.Error()
	}
	ev.Str("status", string(s.Status)).
		Str("session", s.Session).
		Int("peers", s.Peers).
		Int("attempt", s.Attempt).
		AnErr("reason", s.Err).
		Msg("mirror")
}
