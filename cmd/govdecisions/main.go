package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/stake-plus/govdecisions/src/channels"
	"github.com/stake-plus/govdecisions/src/config"
	"github.com/stake-plus/govdecisions/src/core"
	"github.com/stake-plus/govdecisions/src/crypto"
	"github.com/stake-plus/govdecisions/src/data"
	"github.com/stake-plus/govdecisions/src/governance"
	"github.com/stake-plus/govdecisions/src/logging"
	"github.com/stake-plus/govdecisions/src/metrics"
	"github.com/stake-plus/govdecisions/src/notify"
	"github.com/stake-plus/govdecisions/src/participants"
	"github.com/stake-plus/govdecisions/src/polls"
	"github.com/stake-plus/govdecisions/src/scheduler"
	"github.com/stake-plus/govdecisions/src/serverconfig"
	"github.com/stake-plus/govdecisions/src/votes"
	"github.com/stake-plus/govdecisions/src/webserver"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		cfg        config.Config
	)

	cmd := &cobra.Command{
		Use:           "govdecisions",
		Short:         "Decision and ratification engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath, config.Default())
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if _, err := logging.Setup(loaded.Log.Level); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "govdecisions.toml", "TOML config file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the closing sweep",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the schema and seed the server config",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := openDB(cfg)
				return err
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Settle every expired item once and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return sweepOnce(cmd.Context(), cfg)
			},
		},
		actionsCmd(&cfg),
	)
	return cmd
}

func actionsCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{Use: "actions", Short: "Governance action maintenance"}
	cmd.AddCommand(&cobra.Command{
		Use:   "replay",
		Short: "Execute actions of ratified items that never ran",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(*cfg)
			if err != nil {
				return err
			}
			n, err := governance.NewExecutor(db, nil).Replay(cmd.Context())
			log.Info("replay finished", "executed", n)
			return err
		},
	})
	return cmd
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := data.Connect(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if err := data.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func newPublisher(cfg config.FanOutConfig) (notify.Publisher, error) {
	switch cfg.Publisher {
	case config.PublisherRedis:
		rdb, err := data.ConnectRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return notify.NewRedisPublisher(rdb), nil
	case config.PublisherNATS:
		return notify.NewNATSPublisher(cfg.NATSURL, cfg.SubjectBase)
	default:
		return notify.Nop{}, nil
	}
}

// engine is the decision core shared by every command.
type engine struct {
	db       *gorm.DB
	members  channels.Store
	src      participants.Store
	store    *polls.Store
	eval     *polls.Evaluator
	metrics  *metrics.Metrics
	notifier *notify.Notifier
	pub      notify.Publisher
}

func newEngine(cfg config.Config, db *gorm.DB, m *metrics.Metrics) (*engine, error) {
	key, err := cfg.Encryption.Key()
	if err != nil {
		return nil, err
	}
	sealer, err := crypto.NewChannelSealer(db, key)
	if err != nil {
		return nil, err
	}
	pub, err := newPublisher(cfg.FanOut)
	if err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}

	e := &engine{db: db, members: channels.NewStore(db), src: participants.NewStore(db), metrics: m, pub: pub}
	e.notifier = notify.NewNotifier(pub, e.members, m, cfg.FanOut.MaxElapsed.Duration)
	e.store = polls.NewStore(db, sealer, e.members).WithNotifier(e.notifier)
	e.eval = polls.NewEvaluator(e.store, e.src, governance.NewExecutor(db, m), m)
	return e, nil
}

func (e *engine) close() {
	e.notifier.Wait()
	if err := e.pub.Close(); err != nil {
		log.Warn("publisher close", "err", err)
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	m := metrics.New()
	e, err := newEngine(cfg, db, m)
	if err != nil {
		return err
	}
	defer e.close()

	if n, err := governance.NewExecutor(db, m).Replay(ctx); err != nil {
		log.Warn("startup replay incomplete", "executed", n, "err", err)
	} else if n > 0 {
		log.Info("startup replay", "executed", n)
	}

	sweeper := scheduler.New(e.store, e.eval, m, scheduler.Options{
		Interval:    cfg.Sweep.Interval.Duration,
		IdleTimeout: cfg.Sweep.IdleTimeout.Duration,
		BatchSize:   cfg.Sweep.BatchSize,
	})
	handler := webserver.New(cfg.HTTP, webserver.Deps{
		DB:           db,
		Polls:        e.store,
		Votes:        votes.NewService(votes.NewLedger(db), e.store, e.eval, e.members, m),
		ServerConfig: serverconfig.NewService(db),
		Participants: e.src,
		Members:      e.members,
		Sweep:        sweeper,
		Metrics:      m,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := core.NewManager(sweeper, webserver.NewServer(cfg.HTTP.Port, handler))
	return manager.Run(ctx, shutdownTimeout)
}

func sweepOnce(ctx context.Context, cfg config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	e, err := newEngine(cfg, db, nil)
	if err != nil {
		return err
	}
	defer e.close()

	report, err := scheduler.New(e.store, e.eval, nil, scheduler.Options{BatchSize: cfg.Sweep.BatchSize}).RunOnce(ctx)
	if err != nil {
		return err
	}
	log.Info("sweep finished", "checked", report.Checked, "ratified", report.Ratified, "closed", report.Closed, "failed", report.Failed)
	return nil
}
