package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/whisper/roomchat/internal/config"
	"github.com/whisper/roomchat/internal/logging"
	"github.com/whisper/roomchat/internal/messaging"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/rest"
	"github.com/whisper/roomchat/internal/room"
	"github.com/whisper/roomchat/internal/session"
	"github.com/whisper/roomchat/internal/transport"
	"github.com/whisper/roomchat/internal/ws"
)

var _ room.Directory = (*rest.Client)(nil)

var (
	cfg config.Config

	flagConfig    string
	flagAPIURL    string
	flagWSURL     string
	flagTransport string
	flagNATSURL   string
	flagRedisAddr string
	flagDataDir   string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:               "roomchat",
	Short:             "Terminal client for room chat",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", os.Getenv("ROOMCHAT_CONFIG"), "YAML config file (env ROOMCHAT_CONFIG)")
	flags.StringVar(&flagAPIURL, "api-url", "", "REST API base URL")
	flags.StringVar(&flagWSURL, "ws-url", "", "STOMP WebSocket endpoint")
	flags.StringVar(&flagTransport, "transport", "", "real-time transport: ws or nats")
	flags.StringVar(&flagNATSURL, "nats-url", "", "NATS server URL")
	flags.StringVar(&flagRedisAddr, "redis-addr", "", "keep the session in Redis instead of the local data dir")
	flags.StringVar(&flagDataDir, "data-dir", "", "directory for the local session store")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&flagLogFormat, "log-format", "", "log format: console or json")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, profileCmd, roomsCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig builds cfg from defaults, the config file, the environment and
// finally any flags set on the command line.
func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	overrides := []struct {
		name string
		src  string
		dst  *string
	}{
		{"api-url", flagAPIURL, &loaded.APIURL},
		{"ws-url", flagWSURL, &loaded.WSURL},
		{"transport", flagTransport, &loaded.Transport},
		{"nats-url", flagNATSURL, &loaded.NATSURL},
		{"redis-addr", flagRedisAddr, &loaded.RedisAddr},
		{"data-dir", flagDataDir, &loaded.DataDir},
		{"log-level", flagLogLevel, &loaded.LogLevel},
		{"log-format", flagLogFormat, &loaded.LogFormat},
	}
	for _, o := range overrides {
		if cmd.Flags().Changed(o.name) {
			*o.dst = o.src
		}
	}

	if err := loaded.Validate(); err != nil {
		return err
	}
	if err := logging.Setup(loaded.LogLevel, loaded.LogFormat); err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// openStore opens the session store selected by the configuration.
func openStore() (session.Store, error) {
	if cfg.RedisAddr != "" {
		s, err := session.NewRedisStore(cfg.RedisAddr, session.DefaultPrefix, session.DefaultTTL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := session.OpenPebbleStore(cfg.SessionDir(), nil)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newTransport builds the configured real-time transport.
func newTransport() transport.Transport {
	if cfg.Transport == config.TransportNATS {
		return messaging.NewNATSClient(cfg.NATS())
	}
	return ws.NewClient(cfg.WS())
}

// requireSession loads the stored session and returns a REST client
// authenticated with it.
func requireSession(ctx context.Context, store session.Store) (protocol.Session, *rest.Client, error) {
	sess, err := store.Load(ctx)
	if err != nil {
		return protocol.Session{}, nil, err
	}
	if sess == nil {
		return protocol.Session{}, nil, fmt.Errorf("not logged in; run `roomchat login` first")
	}
	api := rest.New(cfg.REST())
	api.SetToken(sess.Token)
	log.Debug().Str("username", sess.Username).Msg("[session] loaded")
	return *sess, api, nil
}
