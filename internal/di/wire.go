// Package di wires every subsystem's concrete implementation together into
// one Container, the single place that knows how the Market-Data Hub,
// Prediction Dispatcher, Risk Engine, Portfolio Store, Order State Machine,
// Execution Strategies and Audit Log are actually constructed. Every other
// package only ever depends on the narrow interfaces those subsystems
// already expose.
package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aristath/quant-core/internal/audit"
	"github.com/aristath/quant-core/internal/config"
	"github.com/aristath/quant-core/internal/database"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/events"
	"github.com/aristath/quant-core/internal/execution/broker"
	"github.com/aristath/quant-core/internal/execution/strategy"
	"github.com/aristath/quant-core/internal/marketdata"
	"github.com/aristath/quant-core/internal/orders"
	"github.com/aristath/quant-core/internal/portfolio"
	"github.com/aristath/quant-core/internal/predictors"
	"github.com/aristath/quant-core/internal/reliability"
	"github.com/aristath/quant-core/internal/risk"
	"github.com/aristath/quant-core/internal/work"
	"github.com/rs/zerolog"
)

// Container holds every long-lived component the server and CLI
// subcommands operate against.
type Container struct {
	Config *config.Config
	Log    zerolog.Logger
	Bus    *events.Bus

	BarsDB      *database.DB
	SignalsDB   *database.DB
	PortfolioDB *database.DB
	OrdersDB    *database.DB
	AuditDB     *database.DB
	CacheDB     *database.DB

	WorkRegistry  *work.Registry
	WorkProcessor *work.Processor

	// Object is nil when cfg.S3Bucket is unset; Blobs then operates
	// local-only and Backup has no object store to upload to.
	Object *reliability.ObjectClient
	Blobs  *reliability.BlobStore
	Backup *reliability.BackupService

	Hub         *marketdata.Hub
	Registry    *predictors.Registry
	Dispatcher  *predictors.Dispatcher
	SignalStore *predictors.SignalStore

	Portfolio *portfolio.Store
	Audit     *audit.Log
	Risk      *risk.Engine
	Sizer     *risk.Sizer

	OrdersStore   *orders.Store
	VolumeTracker *orders.VolumeTracker
	Machine       *orders.Machine
	Scheduler     *strategy.Scheduler

	Brokers     map[string]*broker.Client
	Streams     map[string]*broker.EventStream
	Reconcilers map[string]*orders.Reconciler
}

// Build opens every database, runs migrations, and constructs the full
// dependency graph. The returned closer shuts down broker event streams and
// closes database connections in reverse order; callers must invoke it on
// shutdown.
func Build(cfg *config.Config, log zerolog.Logger) (*Container, func(), error) {
	c := &Container{Config: cfg, Log: log, Bus: events.NewBus()}

	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn().Err(err).Msg("error during shutdown")
			}
		}
	}

	openDB := func(name string, profile database.DatabaseProfile) (*database.DB, error) {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataStorePath, name+".db"),
			Profile: profile,
			Name:    name,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s database: %w", name, err)
		}
		if err := db.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate %s database: %w", name, err)
		}
		closers = append(closers, db.Close)
		return db, nil
	}

	var err error
	if c.BarsDB, err = openDB("bars", database.ProfileStandard); err != nil {
		closeAll()
		return nil, nil, err
	}
	if c.SignalsDB, err = openDB("signals", database.ProfileStandard); err != nil {
		closeAll()
		return nil, nil, err
	}
	if c.PortfolioDB, err = openDB("portfolio", database.ProfileStandard); err != nil {
		closeAll()
		return nil, nil, err
	}
	if c.OrdersDB, err = openDB("orders", database.ProfileStandard); err != nil {
		closeAll()
		return nil, nil, err
	}
	if c.AuditDB, err = openDB("audit", database.ProfileLedger); err != nil {
		closeAll()
		return nil, nil, err
	}

	// Market-Data Hub (§4.A/§4.B)
	store := marketdata.NewSQLiteStore(c.BarsDB)
	providers := make([]marketdata.Provider, 0, len(cfg.Providers))
	for id, p := range cfg.Providers {
		providers = append(providers, marketdata.NewHTTPProvider(id, p.Endpoint, p.Key, marketdata.TimeframeMap{
			"1m": domain.TF1m, "5m": domain.TF5m, "15m": domain.TF15m, "1h": domain.TF1h, "1d": domain.TF1d,
		}, 64, 5.0, log))
	}
	c.Hub = marketdata.NewHub(store, providers, 4096)

	// Object storage (S3-compatible) backs both the model blob store and
	// database backups. When no bucket is configured startup still
	// succeeds: the blob store runs local-only and the backup service is
	// built without an object store to upload to.
	var objectStore reliability.ObjectStore
	if cfg.S3Bucket != "" {
		c.Object, err = reliability.NewObjectClient(context.Background(), cfg.S3Region, cfg.S3Endpoint, cfg.S3AccessKeyID, cfg.S3SecretAccessKey, cfg.S3Bucket)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("build object storage client: %w", err)
		}
		objectStore = c.Object // only assign to the interface once non-nil, or a nil *ObjectClient would compare non-nil as an interface
	}
	c.Blobs, err = reliability.NewBlobStore(cfg.ModelBlobPath, objectStore, log)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("open model blob store: %w", err)
	}
	c.Backup = reliability.NewBackupService(objectStore, cfg.DataStorePath, []string{"bars", "signals", "portfolio", "orders", "audit", "cache"}, log)

	// Predictor Registry + Prediction Dispatcher (§4.D/§4.E)
	registryDir := filepath.Join(cfg.DataStorePath, "predictors")
	c.Registry, err = predictors.NewRegistry(registryDir, c.Bus, log)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("open predictor registry: %w", err)
	}
	runtime := predictors.NewLinearModelRuntime(c.Blobs)
	runtimes := map[domain.PredictorKind]predictors.ModelRuntime{
		domain.PredictorLSTM:        runtime,
		domain.PredictorCNN:         runtime,
		domain.PredictorTransformer: runtime,
		domain.PredictorRLPPO:       runtime,
		domain.PredictorRLA2C:       runtime,
		domain.PredictorRLDQN:       runtime,
		domain.PredictorRLSAC:       runtime,
	}
	c.Dispatcher = predictors.NewDispatcher(c.Hub, c.Registry, runtimes, 8, c.Bus, log)
	c.SignalStore = predictors.NewSignalStore(c.SignalsDB)

	// Audit Log (§4.K) and Portfolio Store (§4.F)
	auditPath := filepath.Join(cfg.DataStorePath, "audit.db")
	c.Audit, err = audit.NewLog(c.AuditDB, auditPath, log)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	closers = append(closers, c.Audit.Close)

	c.Portfolio, err = portfolio.NewStore(c.PortfolioDB, auditPath, log)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("open portfolio store: %w", err)
	}

	// Risk Engine (§4.G), wired to the returns/volume adapters rather than stubs.
	returnsProvider := risk.NewHubReturnsProvider(c.Hub, c.Portfolio, log)
	c.OrdersStore = orders.NewStore(c.OrdersDB)
	c.VolumeTracker = orders.NewVolumeTracker(c.OrdersDB.Conn())
	sectorOf := risk.SectorLookup(func(symbol string) (string, bool) {
		// No sector/security-metadata service is in scope; concentration
		// limits keyed on sector are simply never triggered.
		return "", false
	})
	c.Risk = risk.NewEngine(c.Portfolio, returnsProvider, c.VolumeTracker, sectorOf, c.PortfolioDB.Conn(), 0.95, log)
	c.Sizer = risk.NewSizer(c.Hub, c.Portfolio, log)

	// Execution Engine: brokers, Order State Machine, reconciliation, strategies (§4.H/§4.I/§4.J)
	c.Brokers = make(map[string]*broker.Client, len(cfg.Brokers))
	c.Streams = make(map[string]*broker.EventStream, len(cfg.Brokers))
	machineBrokers := make(map[string]orders.Broker, len(cfg.Brokers))
	for id, b := range cfg.Brokers {
		client := broker.NewClient(broker.Credentials{ID: id, Key: b.Key, Secret: b.Secret, Endpoint: b.Endpoint}, 32, 10.0, log)
		c.Brokers[id] = client
		machineBrokers[id] = client
		c.Streams[id] = broker.NewEventStream(b.Endpoint, log)
		closers = append(closers, c.Streams[id].Stop)
	}

	c.Machine = orders.NewMachine(c.OrdersStore, c.Risk, c.Portfolio, machineBrokers, c.Audit, c.Bus, log)
	c.Scheduler = strategy.NewScheduler(c.Machine, c.OrdersStore, strategy.VolumeProviderFunc(func(ctx context.Context, symbol string, since time.Time) (float64, error) {
		bars, _, err := c.Hub.GetBars(ctx, symbol, domain.TF1m, domain.BarRange{From: since, To: time.Now().UTC()})
		if err != nil {
			return 0, err
		}
		total := 0.0
		for _, b := range bars {
			v, _ := b.Volume.Float64()
			total += v
		}
		return total, nil
	}), c.Bus, log)

	c.Reconcilers = make(map[string]*orders.Reconciler, len(cfg.Brokers))
	for id := range cfg.Brokers {
		c.Reconcilers[id] = orders.NewReconciler(c.Machine, c.OrdersStore, id)
	}

	if c.CacheDB, err = openDB("cache", database.ProfileCache); err != nil {
		closeAll()
		return nil, nil, err
	}
	c.WorkRegistry, c.WorkProcessor = buildWork(c.CacheDB, c.Hub, c.Reconcilers, cfg.TrackedSymbols)

	return c, closeAll, nil
}

// StartWork runs the background work processor until Stop is called. Callers
// should run this in its own goroutine.
func (c *Container) StartWork() {
	c.WorkProcessor.Run()
}

// StopWork halts the background work processor, blocking until it exits.
func (c *Container) StopWork() {
	c.WorkProcessor.Stop()
}

// StartBrokerStreams dials every configured broker's event stream and feeds
// incoming events into the Order State Machine until ctx is cancelled.
func (c *Container) StartBrokerStreams(ctx context.Context) error {
	for id, stream := range c.Streams {
		if err := stream.Start(); err != nil {
			return fmt.Errorf("start %s event stream: %w", id, err)
		}
		go func(brokerID string, s *broker.EventStream) {
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-s.Events():
					if !ok {
						return
					}
					if err := c.Machine.HandleBrokerEvent(ctx, brokerID, ev); err != nil {
						c.Log.Warn().Err(err).Str("broker_id", brokerID).Msg("broker event handling failed")
					}
				}
			}
		}(id, stream)
	}
	return nil
}

// StartReconciliation launches every broker's reconciliation poller.
func (c *Container) StartReconciliation(ctx context.Context) {
	for _, r := range c.Reconcilers {
		go r.Run(ctx)
	}
}
