package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/whisper/roomchat/internal/config"
	"github.com/whisper/roomchat/internal/logging"
	"github.com/whisper/roomchat/internal/messaging"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/rest"
	"github.com/whisper/roomchat/internal/room"
	"github.com/whisper/roomchat/internal/session"
	"github.com/whisper/roomchat/internal/transcript"
	"github.com/whisper/roomchat/internal/transport"
	"github.com/whisper/roomchat/internal/ws"
)

const (
	archiveQueueSize = 1024
	writeTimeout     = 5 * time.Second
	drainTimeout     = 10 * time.Second
)

var rootCmd = &cobra.Command{
	Use:          "roomtail",
	Short:        "Follow one room and archive its messages to PostgreSQL",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runTail,
}

var (
	flagConfig        string
	flagRoom          string
	flagMetricsAddr   string
	flagTranscriptDSN string
	flagRedisAddr     string
	flagDataDir       string
	flagLogLevel      string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagConfig, "config", os.Getenv("ROOMCHAT_CONFIG"), "YAML config file (env ROOMCHAT_CONFIG)")
	flags.StringVar(&flagRoom, "room", "", "room id to follow")
	flags.StringVar(&flagMetricsAddr, "metrics-addr", "", "listen address for /metrics and /healthz")
	flags.StringVar(&flagTranscriptDSN, "transcript-dsn", "", "postgres:// URL of the transcript database")
	flags.StringVar(&flagRedisAddr, "redis-addr", "", "load the session from Redis instead of the local data dir")
	flags.StringVar(&flagDataDir, "data-dir", "", "directory of the local session store")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	_ = rootCmd.MarkFlagRequired("room")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("[roomtail] exit")
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	set := func(name, v string, dst *string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("metrics-addr", flagMetricsAddr, &cfg.MetricsAddr)
	set("transcript-dsn", flagTranscriptDSN, &cfg.TranscriptDSN)
	set("redis-addr", flagRedisAddr, &cfg.RedisAddr)
	set("data-dir", flagDataDir, &cfg.DataDir)
	set("log-level", flagLogLevel, &cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.TranscriptDSN == "" {
		return cfg, errors.New("config: transcript_dsn is required")
	}
	return cfg, logging.Setup(cfg.LogLevel, cfg.LogFormat)
}

func loadSession(ctx context.Context, cfg config.Config) (protocol.Session, error) {
	var (
		store session.Store
		err   error
	)
	if cfg.RedisAddr != "" {
		store, err = session.NewRedisStore(cfg.RedisAddr, session.DefaultPrefix, session.DefaultTTL)
	} else {
		store, err = session.OpenPebbleStore(cfg.SessionDir(), nil)
	}
	if err != nil {
		return protocol.Session{}, err
	}
	defer store.Close()

	sess, err := store.Load(ctx)
	if err != nil {
		return protocol.Session{}, err
	}
	if sess == nil {
		return protocol.Session{}, errors.New("no stored session; run `roomchat login` first")
	}
	return *sess, nil
}

func runTail(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := loadSession(ctx, cfg)
	if err != nil {
		return err
	}

	archive, err := transcript.Open(ctx, cfg.TranscriptDSN)
	if err != nil {
		return err
	}
	defer archive.Close()

	api := rest.New(cfg.REST())
	api.SetToken(sess.Token)

	var tr transport.Transport
	if cfg.Transport == config.TransportNATS {
		tr = messaging.NewNATSClient(cfg.NATS())
	} else {
		tr = ws.NewClient(cfg.WS())
	}

	queue := make(chan protocol.ChatMessage, archiveQueueSize)
	enqueue := func(m protocol.ChatMessage) {
		select {
		case queue <- m:
		default:
			metrics.ArchivedMessages.WithLabelValues("dropped").Inc()
			log.Warn().Str("room", string(m.RoomID)).Msg("[roomtail] archive queue full, message dropped")
		}
	}

	client := room.New(tr, api,
		room.WithConfig(cfg.Room()),
		room.WithHandlers(room.Handlers{
			OnStateChange: func(st room.State) {
				log.Info().Str("state", st.String()).Msg("[roomtail] connection")
			},
			OnRoomLoaded: func(roomID string, members []protocol.Member, messages []protocol.ChatMessage) {
				log.Info().Str("room", roomID).Int("members", len(members)).Int("history", len(messages)).Msg("[roomtail] room loaded")
				for _, m := range messages {
					enqueue(m)
				}
			},
			OnMessage: enqueue,
			OnRoomEvent: func(ev protocol.RoomEvent) {
				log.Info().Str("room", string(ev.RoomID)).Str("type", ev.Type).Str("user", ev.User.Username).Msg("[roomtail] room event")
			},
			OnError: func(err error) {
				log.Warn().Err(err).Msg("[roomtail] client error")
			},
		}),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		archiveLoop(gctx, queue, archive, drainTimeout)
		return nil
	})

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newRouter(client),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("[roomtail] metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := client.Connect(gctx, sess); err != nil {
			log.Warn().Err(err).Msg("[roomtail] initial connect failed, retrying")
		}
		return client.SelectRoom(gctx, flagRoom)
	})

	g.Go(func() error {
		<-gctx.Done()
		client.Disconnect()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type archiver interface {
	Append(ctx context.Context, m protocol.ChatMessage) (bool, error)
}

// archiveLoop writes queued messages until ctx is done, then keeps writing
// what is already queued for at most drain.
func archiveLoop(ctx context.Context, queue <-chan protocol.ChatMessage, store archiver, drain time.Duration) {
	write := func(parent context.Context, m protocol.ChatMessage) {
		wctx, cancel := context.WithTimeout(parent, writeTimeout)
		defer cancel()
		if _, err := store.Append(wctx, m); err != nil {
			log.Error().Err(err).Str("room", string(m.RoomID)).Msg("[roomtail] archive failed")
		}
	}

	for {
		select {
		case <-ctx.Done():
			dctx, cancel := context.WithTimeout(context.Background(), drain)
			defer cancel()
			for {
				select {
				case m := <-queue:
					if dctx.Err() != nil {
						n := len(queue) + 1
						metrics.ArchivedMessages.WithLabelValues("dropped").Add(float64(n))
						log.Warn().Int("count", n).Msg("[roomtail] drain timed out, messages dropped")
						return
					}
					write(dctx, m)
				default:
					return
				}
			}
		case m := <-queue:
			write(context.Background(), m)
		}
	}
}

func newRouter(client *room.Client) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		st := client.State()
		if st != room.StateConnected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintln(w, st.String())
	})
	return r
}
