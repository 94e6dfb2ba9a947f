package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var flagDebug bool

var rootCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Share a screen to viewers over WebRTC through a Mirror relay",
	Long: `mirror connects to a Mirror relay and either shares an RTP video stream
as the host of a session or watches the session as a viewer.

Examples:
  ffmpeg -f x11grab -i :0 -c:v libvpx -f rtp rtp://127.0.0.1:5004 &
  mirror host --session 1121
  mirror view --server_url ws://relay.local:8080/api/ws/signal`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if flagDebug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&flagDebug, "debug", false, "verbose logging")
	pf.String("server_url", "", "relay WebSocket URL")
	pf.String("session", "", "session id")
	pf.StringSlice("ice_servers", nil, "STUN/TURN URLs")
	pf.Duration("dial_timeout", 0, "relay handshake timeout")
	pf.Duration("negotiation_timeout", 0, "offer/answer timeout per peer")
	pf.Int("reconnect.max_attempts", 0, "reconnect attempts before giving up (0 retries forever)")

	hostCmd.Flags().String("rtp_listen", "", "UDP address receiving the RTP stream to share")

	rootCmd.AddCommand(hostCmd, viewCmd)
}
