package di

import (
	"context"
	"fmt"
	"time"

	domrepo "IntelWatch/internal/domain/repository"
	domsvc "IntelWatch/internal/domain/service"
	"IntelWatch/internal/handler/api"
	"IntelWatch/internal/repository"
	"IntelWatch/internal/services/analytics"
	"IntelWatch/internal/usecase"
	"IntelWatch/pkg/cache"
	pkgch "IntelWatch/pkg/clickhouse"
	"IntelWatch/pkg/compression"
	"IntelWatch/pkg/config"
	xhttp "IntelWatch/pkg/http"
	pkgkafka "IntelWatch/pkg/kafka"
	"IntelWatch/pkg/logger"
	"IntelWatch/pkg/metrics"
	"IntelWatch/pkg/postgres"
	"IntelWatch/pkg/queue"
	"IntelWatch/pkg/server"

	"github.com/redis/go-redis/v9"
)

// Resources collects what the app must close on shutdown, in open order.
type Resources struct {
	closers []server.Closer
	checks  map[string]api.HealthCheck
}

func (r *Resources) add(name string, closeFn func() error, check api.HealthCheck) {
	r.closers = append(r.closers, server.Closer{Name: name, Close: closeFn})
	if check != nil {
		r.checks[name] = check
	}
}

// Stores is the storage bundle selected by storage.mode.
type Stores struct {
	Monitors     domrepo.MonitorRepository
	Alerts       domrepo.AlertRepository
	Snapshots    domrepo.SnapshotBackend
	Aggregations domrepo.AggregationRepository
}

// ProvideResources creates the shutdown and health registry.
func ProvideResources() *Resources {
	return &Resources{checks: make(map[string]api.HealthCheck)}
}

// ProvideLogger creates the application logger from the log section. When a
// producer is available, error logs are aggregated and shipped to the logs
// topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer, res *Resources) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil && cfg.Kafka.LogsTopic != "" {
		l.AddCollector(&logger.CollectionConfig{
			Service:        cfg.Service,
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      producer,
		})
		res.add("log collector", func() error { l.RemoveCollector(); return nil }, nil)
	}
	return l.With(logger.String("service", cfg.Service), logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

// ProvideKafkaProducer creates a Kafka producer. It returns nil when Kafka is
// disabled.
func ProvideKafkaProducer(cfg *config.Config, res *Resources) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	res.add("kafka producer", producer.Close, nil)
	return producer, nil
}

// ProvideRedisClient connects to Redis when enabled. The cache and the task
// queue share its pool; the layered cache closes it.
func ProvideRedisClient(cfg *config.Config, res *Resources) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	client := rc.Client()
	res.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return client, nil
}

// ProvideCache returns a memory+Redis layered cache when Redis is available and
// a memory cache otherwise. Locks and counters always resolve in Redis.
func ProvideCache(cfg *config.Config, client *redis.Client, res *Resources) cache.Service {
	if client == nil {
		mc := cache.NewMemoryCache(cache.WithMemoryCleanup(time.Minute))
		res.add("memory cache", mc.Close, nil)
		return mc
	}
	lc := cache.NewLayeredCache(cache.NewRedisCacheFromClient(client, cfg.Redis.Prefix),
		cache.WithLayeredMemoryTTL(30*time.Second),
	)
	res.add("redis", lc.Close, nil)
	return lc
}

// ProvideStores opens the storage selected by storage.mode and initializes
// its schema.
func ProvideStores(cfg *config.Config, lgr *logger.Logger, res *Resources) (*Stores, error) {
	if cfg.Storage.Mode != config.StorageModePersistent {
		return &Stores{
			Monitors:     repository.NewMemoryMonitorRepository(),
			Alerts:       repository.NewMemoryAlertRepository(),
			Snapshots:    repository.NewMemorySnapshotBackend(),
			Aggregations: repository.NewMemoryAggregationRepository(),
		}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pg, err := postgres.NewClient(
		postgres.WithDSN(cfg.Postgres.DSN),
		postgres.WithPool(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns, cfg.Postgres.ConnMaxLifetime),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}
	res.add("postgres", pg.Close, pg.Health)
	if err := pg.InitSchema(ctx, repository.PostgresSchema); err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	ch, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithLZ4(cfg.ClickHouse.Compress),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	res.add("clickhouse", ch.Close, ch.Health)
	if err := ch.InitSchema(ctx, repository.ClickHouseSchema); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	lgr.Info("persistent storage ready",
		logger.String("clickhouse_db", cfg.ClickHouse.Database),
		logger.String("clickhouse_host", cfg.ClickHouse.Host),
	)
	return &Stores{
		Monitors:     repository.NewPostgresMonitorRepository(pg.DB()),
		Alerts:       repository.NewPostgresAlertRepository(pg.DB()),
		Snapshots:    repository.NewClickHouseSnapshotBackend(ch, lgr),
		Aggregations: repository.NewClickHouseAggregationRepository(ch),
	}, nil
}

// ProvideSnapshotStore wraps the snapshot backend with batching, the range
// cache and field compression. The store is flushed before clients close.
func ProvideSnapshotStore(cfg *config.Config, stores *Stores, lgr *logger.Logger, rec *metrics.Recorder, res *Resources) (*repository.SnapshotStore, error) {
	store, err := repository.NewSnapshotStore(stores.Snapshots, lgr, rec,
		repository.WithBatching(cfg.Store.BatchSize, cfg.Store.FlushInterval),
		repository.WithRangeCache(cfg.Store.CacheSize, cfg.Store.CacheTTL),
		repository.WithFieldCompression(compression.Algorithm(cfg.Store.Compression), cfg.Store.CompressionThreshold),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	res.add("snapshot store", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return store.Close(ctx)
	}, nil)
	return store, nil
}

func queueConfig(cfg *config.Config) *queue.QueueConfig {
	return &queue.QueueConfig{
		Workers:     cfg.Queue.Workers,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase,
		BackoffMax:  cfg.Queue.BackoffMax,
		TaskTimeout: cfg.Queue.TaskTimeout,
		LaneRates: map[queue.Lane]float64{
			queue.LaneCritical: cfg.Queue.LaneRates.Critical,
			queue.LaneHigh:     cfg.Queue.LaneRates.High,
			queue.LaneNormal:   cfg.Queue.LaneRates.Normal,
			queue.LaneLow:      cfg.Queue.LaneRates.Low,
		},
	}
}

// ProvideQueue creates the Redis task queue when Redis is available and the
// in-process queue otherwise.
func ProvideQueue(cfg *config.Config, lgr *logger.Logger, client *redis.Client, rec *metrics.Recorder) queue.Queue {
	if client != nil {
		return queue.NewRedisQueue(lgr, queueConfig(cfg), client, rec, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	}
	return queue.NewMemoryQueue(lgr, queueConfig(cfg), rec)
}

// ProvideAnalysisEngine creates the upstream analysis client.
func ProvideAnalysisEngine(cfg *config.Config) domsvc.AnalysisEngine {
	return analytics.NewHTTPAnalysisEngine(cfg)
}

// ProvideDetectorRegistry builds one seasonal-forecast detector per monitor.
func ProvideDetectorRegistry(cfg *config.Config, lgr *logger.Logger) *analytics.DetectorRegistry {
	return analytics.NewDetectorRegistry(func() *analytics.AnomalyDetector {
		return analytics.NewAnomalyDetector(analytics.NewSeasonalForecaster(),
			analytics.WithMode(cfg.Detector.Mode),
			analytics.WithMinPoints(cfg.Detector.MinPoints),
			analytics.WithDetectorLogger(lgr),
		)
	})
}

func ProvideAlertScorer(cfg *config.Config, c cache.Service, rec *metrics.Recorder, lgr *logger.Logger) *analytics.AlertScorer {
	return analytics.NewAlertScorer(repository.NewCacheDedupStore(c), rec, lgr, analytics.WithDailyCap(cfg.Scorer.DailyCap))
}

func ProvideAggregator(cfg *config.Config, store *repository.SnapshotStore, stores *Stores, lgr *logger.Logger) *analytics.Aggregator {
	return analytics.NewAggregator(store, stores.Aggregations, lgr, analytics.WithMAWindow(cfg.Aggregator.MAWindow))
}

func ProvideRootCauseAnalyzer(lgr *logger.Logger) *analytics.RootCauseAnalyzer {
	return analytics.NewRootCauseAnalyzer(lgr)
}

func ProvideChangeDetector() *analytics.ChangeDetector {
	return analytics.NewChangeDetector()
}

// ProvideAlertHub creates the websocket alert feed.
func ProvideAlertHub(lgr *logger.Logger, res *Resources) *api.AlertHub {
	hub := api.NewAlertHub(lgr)
	res.add("alert hub", func() error { hub.Close(); return nil }, nil)
	return hub
}

// ProvideAlertDispatcher publishes to the alerts topic, or only logs when
// Kafka is disabled.
func ProvideAlertDispatcher(cfg *config.Config, producer *pkgkafka.Producer, lgr *logger.Logger) domsvc.AlertDispatcher {
	if producer == nil {
		return repository.NewLogAlertDispatcher(lgr)
	}
	return repository.NewKafkaAlertDispatcher(producer, cfg.Kafka.AlertsTopic, lgr)
}

func ProvideCheckService(
	cfg *config.Config,
	stores *Stores,
	store *repository.SnapshotStore,
	engine domsvc.AnalysisEngine,
	changes *analytics.ChangeDetector,
	detectors *analytics.DetectorRegistry,
	scorer *analytics.AlertScorer,
	rca *analytics.RootCauseAnalyzer,
	q queue.Queue,
	c cache.Service,
	hub *api.AlertHub,
	rec *metrics.Recorder,
	lgr *logger.Logger,
) *usecase.CheckService {
	return usecase.NewCheckService(stores.Monitors, stores.Alerts, store, engine, changes, detectors, scorer, rca,
		q, c, hub, rec, lgr, cfg.Detector.HistoryDays, cfg.Scheduler.CheckLockTTL)
}

func ProvideMonitorService(
	stores *Stores,
	store *repository.SnapshotStore,
	aggregator *analytics.Aggregator,
	detectors *analytics.DetectorRegistry,
	check *usecase.CheckService,
	q queue.Queue,
	lgr *logger.Logger,
) *usecase.MonitorService {
	return usecase.NewMonitorService(stores.Monitors, stores.Alerts, store, aggregator, detectors, check, q, lgr)
}

func ProvideMaintenanceService(
	cfg *config.Config,
	stores *Stores,
	store *repository.SnapshotStore,
	aggregator *analytics.Aggregator,
	detectors *analytics.DetectorRegistry,
	q queue.Queue,
	rec *metrics.Recorder,
	lgr *logger.Logger,
) *usecase.MaintenanceService {
	return usecase.NewMaintenanceService(stores.Monitors, store, aggregator, detectors, q, rec, lgr, cfg.Detector.HistoryDays)
}

func ProvideDeliveryService(stores *Stores, dispatcher domsvc.AlertDispatcher, lgr *logger.Logger) *usecase.DeliveryService {
	return usecase.NewDeliveryService(stores.Alerts, stores.Monitors, dispatcher, lgr)
}

func ProvideScheduler(cfg *config.Config, stores *Stores, check *usecase.CheckService, q queue.Queue, rec *metrics.Recorder, lgr *logger.Logger) *usecase.Scheduler {
	return usecase.NewScheduler(stores.Monitors, check, q, rec, lgr, usecase.SchedulerConfig{
		PollInterval:      cfg.Scheduler.PollInterval,
		BatchSize:         cfg.Scheduler.BatchSize,
		DueLimit:          cfg.Scheduler.DueLimit,
		AggregateInterval: cfg.Scheduler.AggregateInterval,
		RetentionInterval: cfg.Scheduler.RetentionInterval,
		RetrainInterval:   cfg.Scheduler.RetrainInterval,
		RetentionDays:     cfg.Retention.SnapshotDays,
		BackoffBase:       cfg.Queue.BackoffBase,
		BackoffMax:        cfg.Queue.BackoffMax,
	})
}

// ProvideCommandHandler handles the command topic.
func ProvideCommandHandler(cfg *config.Config, q queue.Queue, rec *metrics.Recorder) *usecase.CommandHandler {
	return usecase.NewCommandHandler(cfg.Kafka.CommandsTopic, q, rec)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML. It
// returns nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, lgr *logger.Logger, commands *usecase.CommandHandler) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(lgr),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.NewLoggingHook(lgr),
		usecase.NewCommandValidationHook(commands),
	))
	return consumer, nil
}

// ProvideHTTPServer mounts the admin API, the alert feed and health checks.
func ProvideHTTPServer(
	cfg *config.Config,
	lgr *logger.Logger,
	monitors *usecase.MonitorService,
	maint *usecase.MaintenanceService,
	hub *api.AlertHub,
	res *Resources,
) *xhttp.Server {
	router := api.NewRouter(
		api.NewMonitorsHandler(lgr, monitors, maint),
		api.NewMaintenanceHandler(lgr, maint),
		hub,
	)
	for name, check := range res.checks {
		router.AddHealthCheck(name, check)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(router,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(lgr),
	)
}

// ProvideApp registers the queue jobs and assembles the application.
func ProvideApp(
	cfg *config.Config,
	lgr *logger.Logger,
	q queue.Queue,
	scheduler *usecase.Scheduler,
	consumer *pkgkafka.Consumer,
	commands *usecase.CommandHandler,
	check *usecase.CheckService,
	delivery *usecase.DeliveryService,
	maint *usecase.MaintenanceService,
	httpServer *xhttp.Server,
	res *Resources,
) *server.App {
	usecase.RegisterJobs(q, check, delivery, maint, cfg.Retention.SnapshotDays)

	app := server.New(cfg, lgr, q, scheduler, consumer, httpServer)
	if consumer != nil {
		app.AddConsumerHandler(commands)
	}
	for _, c := range res.closers {
		app.AddCloser(c.Name, c.Close)
	}
	return app
}
