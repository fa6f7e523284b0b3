package svc

import (
	"context"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	keyspace "gridwire-api/internal/cache"
	"gridwire-api/internal/config"
	"gridwire-api/internal/dispatch"
	"gridwire-api/internal/repo"
	exchangepkg "gridwire-api/pkg/exchange"
	"gridwire-api/pkg/exchange/binance"
	"gridwire-api/pkg/execution"
	"gridwire-api/pkg/grid"
	"gridwire-api/pkg/journal"
	"gridwire-api/pkg/notify"
	"gridwire-api/pkg/precision"
	"gridwire-api/pkg/reconcile"
	"gridwire-api/pkg/risk"
	"gridwire-api/pkg/signal"
	"gridwire-api/pkg/swing"
	"gridwire-api/pkg/symlock"
)

// ServiceContext wires configuration into the provider, persistence and
// engine graph shared by the HTTP intake and the stream listener.
type ServiceContext struct {
	Config config.Config

	ExchangeProviders map[string]exchangepkg.Provider
	DefaultExchange   exchangepkg.Provider
	Instruments       *precision.Registry

	DBConn sqlx.SqlConn
	Repos  *repo.Set

	Locks       *symlock.KeyedMutex
	Executor    *execution.Executor
	GridEngine  *grid.Engine
	SwingEngine *swing.Engine
	Risk        *risk.Controller
	Notifier    *notify.Client
	Journal     *journal.Writer
	Dispatcher  *dispatch.Dispatcher
	Sequencer   *signal.Sequencer
	Processor   *reconcile.Processor
	Listener    *reconcile.Listener
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{Config: c}

	if c.Exchange.Value == nil {
		log.Fatal("exchange config section is required")
	}
	exchangeCfg := c.Exchange.Value
	// Test environment trades against testnet endpoints only.
	if c.IsTestEnv() {
		for _, provider := range exchangeCfg.Providers {
			provider.Testnet = true
		}
	}
	providers, err := exchangeCfg.BuildProviders()
	if err != nil {
		log.Fatalf("failed to build exchange providers: %v", err)
	}
	svc.ExchangeProviders = providers
	if exchangeCfg.Default == "" {
		log.Fatal("exchange config must name a default provider")
	}
	svc.DefaultExchange = providers[exchangeCfg.Default]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	instruments, err := svc.DefaultExchange.GetInstruments(ctx)
	if err != nil {
		log.Fatalf("failed to load instrument metadata: %v", err)
	}
	registry, err := precision.NewRegistry(instruments)
	if err != nil {
		log.Fatalf("failed to build precision registry: %v", err)
	}
	svc.Instruments = registry

	if c.Postgres.DSN == "" {
		log.Fatal("postgres dsn is required")
	}
	svc.DBConn = sqlx.NewSqlConn("pgx", c.Postgres.DSN)

	var redisCache cache.Cache
	if c.Redis.Host != "" {
		redisCache = cache.New(
			cache.CacheConf{{RedisConf: c.Redis, Weight: 100}},
			syncx.NewSingleFlight(),
			cache.NewStat("gridwire"),
			sqlx.ErrNotFound,
		)
	}
	repos, err := repo.New(repo.Dependencies{
		DBConn: svc.DBConn,
		Cache:  redisCache,
		TTL:    keyspace.NewTTLSet(c.TTL.Short, c.TTL.Medium, c.TTL.Long),
	})
	if err != nil {
		log.Fatalf("failed to build repositories: %v", err)
	}
	svc.Repos = repos

	svc.Locks = symlock.New()
	executor, err := execution.NewExecutor(svc.DefaultExchange, registry, executionConfig(c.Execution))
	if err != nil {
		log.Fatalf("failed to build executor: %v", err)
	}
	svc.Executor = executor
	svc.GridEngine = grid.NewEngine(svc.DefaultExchange, registry, repos.GridSlots, svc.Locks,
		grid.WithMarginAsset(c.Engine.MarginAsset))
	svc.SwingEngine = swing.NewEngine(svc.DefaultExchange, registry, svc.Executor, svc.Locks,
		swing.WithMarginAsset(c.Engine.MarginAsset))
	svc.Risk = risk.NewController(svc.DefaultExchange, registry, repos.Risk())

	svc.Notifier = notify.NewClient(c.Notify.Endpoint,
		notify.WithAuthToken(c.Notify.AuthToken),
		notify.WithTimeout(time.Duration(c.Notify.TimeoutSec)*time.Second))
	svc.Journal = journal.NewWriter(c.JournalPath)

	svc.Dispatcher = dispatch.New(svc.GridEngine, svc.SwingEngine, repos.Strategies, svc.Journal, svc.Notifier)
	svc.Sequencer = signal.NewSequencer(svc.Dispatcher.Handle,
		signal.WithQueueDepth(c.Engine.SequencerQueueDepth),
		signal.WithDispatchTick(time.Duration(c.Engine.SequencerTickMs)*time.Millisecond))

	svc.Processor = reconcile.NewProcessor(repos.Ledger(), repos.Strategies, svc.GridEngine, svc.Risk)
	if stream, ok := svc.DefaultExchange.(exchangepkg.StreamProvider); ok {
		listener, err := reconcile.NewListener(stream, binance.ParseFillEvent, svc.Processor, reconcileConfig(c.Reconcile))
		if err != nil {
			log.Fatalf("failed to build stream listener: %v", err)
		}
		svc.Listener = listener
	}

	return svc
}

// Close releases pooled resources. Call on shutdown.
func (s *ServiceContext) Close() {
	if s.Executor != nil {
		s.Executor.Close()
	}
	if s.Notifier != nil {
		s.Notifier.Close()
	}
}

func executionConfig(c config.ExecutionConf) execution.Config {
	return execution.Config{
		MaxRetries:     c.MaxRetries,
		AdjustStep:     c.AdjustStep,
		MaxAdjust:      c.MaxAdjust,
		PollInterval:   time.Duration(c.PollIntervalMs) * time.Millisecond,
		PollTimeout:    time.Duration(c.PollTimeoutMs) * time.Millisecond,
		RetryBackoff:   time.Duration(c.RetryBackoffMs) * time.Millisecond,
		SplitParts:     c.SplitParts,
		MaxWorkers:     c.MaxWorkers,
		MarketFallback: c.MarketFallback,
	}
}

func reconcileConfig(c config.ReconcileConf) reconcile.Config {
	return reconcile.Config{
		HeartbeatInterval: time.Duration(c.HeartbeatIntervalSec) * time.Second,
		HeartbeatTimeout:  time.Duration(c.HeartbeatTimeoutSec) * time.Second,
		KeepAliveInterval: time.Duration(c.KeepAliveIntervalMin) * time.Minute,
		MaxReconnects:     c.MaxReconnects,
		ReconnectBackoff:  time.Duration(c.ReconnectBackoffSec) * time.Second,
		Workers:           c.Workers,
	}
}
