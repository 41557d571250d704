package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ajy121650/mailer-back/internal/attachment"
	"github.com/ajy121650/mailer-back/internal/classify"
	"github.com/ajy121650/mailer-back/internal/credential"
	"github.com/ajy121650/mailer-back/internal/events"
	"github.com/ajy121650/mailer-back/internal/lock"
	"github.com/ajy121650/mailer-back/internal/logging"
	"github.com/ajy121650/mailer-back/internal/mailbox"
	"github.com/ajy121650/mailer-back/internal/metrics"
	"github.com/ajy121650/mailer-back/internal/model"
	"github.com/ajy121650/mailer-back/internal/store"
	"github.com/ajy121650/mailer-back/internal/sync"
)

// app holds the wired services of one command invocation.
type app struct {
	cfg      *model.AppConfig
	logger   *zap.Logger
	store    *store.SQLStore
	creds    credential.Provider
	ring     *credential.KeyringProvider
	sealKey  []byte
	registry *prometheus.Registry
	metrics  *metrics.Sync

	closers []func() error
}

// newApp loads the configuration and opens the logger, store, and
// credential backend. Pipeline services are built on demand.
func newApp(configPath string) (*app, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	switch cfg.Credentials.Backend {
	case "sealed":
		key, err := credential.KeyFromEnv(cfg.Credentials.KeyEnv)
		if err != nil {
			a.close()
			return nil, err
		}
		a.sealKey = key
		a.creds = credential.NewSealedProvider(key)
	default:
		ring, err := credential.OpenKeyring(cfg.Credentials.FileDir)
		if err != nil {
			a.close()
			return nil, err
		}
		a.ring = ring
		a.creds = ring
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	return a, nil
}

// detachLogger swaps in a logger that stays off the terminal, for
// commands that own the screen.
func (a *app) detachLogger() error {
	logger, err := logging.Detached(a.cfg.Log)
	if err != nil {
		return err
	}
	_ = a.logger.Sync()
	a.logger = logger
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("closing resource", zap.Error(err))
		}
	}
	a.closers = nil
}

// secret resolves a credential reference through the configured backend.
func (a *app) secret(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if a.ring != nil {
		return a.ring.Get(ref)
	}
	return credential.Decrypt(ref, a.sealKey)
}

// seedAccounts upserts the accounts listed in the config file.
func (a *app) seedAccounts(ctx context.Context) error {
	for _, seed := range a.cfg.Accounts {
		if err := a.store.UpsertAccount(ctx, seed.Account()); err != nil {
			return fmt.Errorf("seeding account %s: %w", seed.Address, err)
		}
	}
	return nil
}

func (a *app) publisher() events.Publisher {
	if a.cfg.AMQP.URL == "" {
		return events.Nop{}
	}
	p, err := events.NewAMQPPublisher(a.cfg.AMQP.URL, a.cfg.AMQP.Exchange)
	if err != nil {
		a.logger.Warn("ingest events disabled", zap.Error(err))
		return events.Nop{}
	}
	a.closers = append(a.closers, p.Close)
	return p
}

func (a *app) locker() lock.Locker {
	if a.cfg.Redis.Addr == "" {
		return lock.NewMemory()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, rdb.Close)
	return lock.NewRedis(rdb, a.cfg.Redis.LockTTL)
}

// orchestrator wires the sync pipeline. onState may be nil.
func (a *app) orchestrator(onState func(string, sync.State)) (*sync.Orchestrator, error) {
	apiKey, err := a.secret(a.cfg.Classifier.APIKeyRef)
	if err != nil {
		return nil, fmt.Errorf("resolving classifier key: %w", err)
	}
	gw, err := classify.NewFromConfig(a.cfg.Classifier, apiKey, a.metrics, a.logger.Named("classify"))
	if err != nil {
		return nil, err
	}

	dialer := mailbox.NewDialer(a.cfg.Sync.ConnectTimeout, a.cfg.Sync.CommandTimeout, a.logger.Named("imap"))
	sink := attachment.NewOsFileSink(a.cfg.Storage.AttachmentDir)

	opts := sync.OptionsFromConfig(a.cfg.Sync)
	opts.Logger = a.logger.Named("sync")
	opts.Publisher = a.publisher()
	opts.Recorder = a.metrics
	opts.OnState = onState

	return sync.NewOrchestrator(a.store, dialer, a.creds, gw, sink, opts), nil
}

// scheduler wires a scheduler whose status tracks the orchestrator's
// state transitions.
func (a *app) scheduler() (*sync.Scheduler, error) {
	var sched *sync.Scheduler
	orch, err := a.orchestrator(func(id string, s sync.State) {
		if sched != nil {
			sched.ObserveState(id, s)
		}
	})
	if err != nil {
		return nil, err
	}

	sched = sync.NewScheduler(orch, a.store, a.locker(), sync.SchedulerOptions{
		Interval:      a.cfg.Sync.Interval,
		MaxConcurrent: a.cfg.Sync.MaxConcurrent,
		RunRetries:    a.cfg.Sync.RunRetries,
		RetryDelay:    2 * time.Second,
		RunTimeout:    a.cfg.Sync.SessionTimeout * time.Duration(a.cfg.Sync.RunRetries+2),
		Logger:        a.logger.Named("scheduler"),
	})
	return sched, nil
}
