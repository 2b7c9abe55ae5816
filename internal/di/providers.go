package di

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"PriceSentinel/internal/domain/repository"
	"PriceSentinel/internal/handler/api"
	mid "PriceSentinel/internal/middleware"
	internalrepo "PriceSentinel/internal/repository"
	"PriceSentinel/internal/service/feed"
	"PriceSentinel/internal/service/quoteapi"
	"PriceSentinel/internal/services/analytics"
	"PriceSentinel/internal/usecase"
	"PriceSentinel/pkg/cache"
	pkgch "PriceSentinel/pkg/clickhouse"
	"PriceSentinel/pkg/config"
	pkgkafka "PriceSentinel/pkg/kafka"
	applogger "PriceSentinel/pkg/logger"
	"PriceSentinel/pkg/metrics"
	"PriceSentinel/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	level := cfg.Logging.Level
	if level == "" {
		level = "info"
	}
	format := cfg.Logging.Format
	if format == "" {
		format = "json"
	}
	output := cfg.Logging.Output
	if output == "" {
		output = "stdout"
	}
	return applogger.New(&applogger.Config{Level: level, Format: format, Output: output})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideQuoteClient creates the upstream quote API client.
func ProvideQuoteClient(cfg *config.Config, l *applogger.Logger) *quoteapi.Client {
	opts := []quoteapi.Option{quoteapi.WithLogger(l)}
	if cfg.QuoteAPI.MaxRetries > 0 || cfg.QuoteAPI.RetryDelayMin > 0 || cfg.QuoteAPI.RetryDelayMax > 0 {
		opts = append(opts, quoteapi.WithRetry(cfg.QuoteAPI.MaxRetries, cfg.QuoteAPI.RetryDelayMin, cfg.QuoteAPI.RetryDelayMax))
	}
	if cfg.QuoteAPI.AttemptTimeout > 0 {
		opts = append(opts, quoteapi.WithAttemptTimeout(cfg.QuoteAPI.AttemptTimeout))
	}
	return quoteapi.New(cfg.QuoteAPI.BaseURL, cfg.QuoteAPI.APIKey, opts...)
}

// ProvideQuoteSource exposes the client through the domain interface.
func ProvideQuoteSource(c *quoteapi.Client) repository.QuoteSource {
	return c
}

// ProvideFeed creates the price feed service.
func ProvideFeed(client *quoteapi.Client, cfg *config.Config, m repository.Metrics, l *applogger.Logger) *feed.Service {
	return feed.New(client,
		feed.WithPollInterval(cfg.Feed.PollInterval),
		feed.WithBatching(cfg.Feed.BatchSize, cfg.Feed.BatchDelay),
		feed.WithBackoffWindow(cfg.Feed.BackoffMin, cfg.Feed.BackoffMax),
		feed.WithMetrics(m),
		feed.WithLogger(l),
	)
}

// AlertBackend bundles the configured alert sink with its optional query
// side and owned infrastructure clients.
type AlertBackend struct {
	Sink   repository.AlertSink
	Events api.EventReader // non-nil only for the clickhouse sink

	ch     *pkgch.Client
	detach func()
}

// Close releases the sink and any owned clients.
func (b *AlertBackend) Close() error {
	if b.detach != nil {
		b.detach()
	}
	var first error
	if b.Sink != nil {
		if err := b.Sink.Close(); err != nil {
			first = err
		}
	}
	if b.ch != nil {
		if err := b.ch.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// producerPublisher adapts the Kafka producer to the log collector's
// publisher contract.
type producerPublisher struct {
	p *pkgkafka.Producer
}

func (a producerPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return a.p.Publish(ctx, topic, nil, payload)
}

// ProvideAlertBackend builds the alert sink selected by config: a Kafka
// topic, a ClickHouse table, or the structured log.
func ProvideAlertBackend(cfg *config.Config, l *applogger.Logger) (*AlertBackend, error) {
	switch cfg.Alerts.Sink {
	case "kafka":
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithCompression(cfg.Kafka.Compression),
			pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
			pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
			pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
			pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
			pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
			pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
			pkgkafka.WithHashByKey(true),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}

		// Aggregated error logs ride the same broker on a sibling topic.
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.Topic + ".logs",
			Publisher:      producerPublisher{p: producer},
		})
		return &AlertBackend{
			Sink:   internalrepo.NewKafkaAlertPublisher(producer, cfg.Kafka.Topic),
			detach: l.RemoveCollector,
		}, nil

	case "clickhouse":
		client, err := provideClickHouseClient(cfg)
		if err != nil {
			return nil, err
		}
		table := cfg.ClickHouse.Table
		if table == "" {
			table = "anomaly_events"
		}
		qualified := cfg.ClickHouse.Database + "." + table
		sink := internalrepo.NewClickHouseAlertStore(client.DB(), qualified)
		events, _ := sink.(api.EventReader)
		return &AlertBackend{Sink: sink, Events: events, ch: client}, nil

	default:
		return &AlertBackend{Sink: internalrepo.NewLogAlertSink(l)}, nil
	}
}

func provideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	table := cfg.ClickHouse.Table
	if table == "" {
		table = "anomaly_events"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database,
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (ts DateTime, symbol String, method String, price Float64, mean Float64, std Float64, score Float64, threshold Float64, volatility Float64) ENGINE=MergeTree ORDER BY (symbol, ts)",
			cfg.ClickHouse.Database, table),
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvidePipeline creates the alert delivery pipeline.
func ProvidePipeline(backend *AlertBackend, m repository.Metrics, cfg *config.Config) *mid.AlertPipeline {
	opts := []mid.PipelineOption{}
	if cfg.Alerts.Cooldown > 0 {
		opts = append(opts, mid.WithCooldown(cfg.Alerts.Cooldown))
	}
	if cfg.Alerts.Buffer > 0 {
		opts = append(opts, mid.WithBufferSize(cfg.Alerts.Buffer))
	}
	return mid.NewAlertPipeline(backend.Sink, m, opts...)
}

// ProvideMonitor creates the live price monitor use case.
func ProvideMonitor(
	fd *feed.Service,
	source repository.QuoteSource,
	pipe *mid.AlertPipeline,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) (*usecase.PriceMonitor, error) {
	methodName := cfg.Detection.Method
	if methodName == "" {
		methodName = "zscore"
	}
	method, err := analytics.ParseMethod(methodName)
	if err != nil {
		return nil, fmt.Errorf("detection method: %w", err)
	}
	seedDays := cfg.Detection.SeedDays
	if seedDays == 0 {
		seedDays = 30
	}
	return usecase.NewPriceMonitor(fd, source, pipe, m, l, method, seedDays), nil
}

// ProvideSeriesDetector creates the on-demand series detector.
func ProvideSeriesDetector(m repository.Metrics) *usecase.SeriesDetector {
	return usecase.NewSeriesDetector(m)
}

// ProvideCache builds the response cache: layered memory+Redis when Redis is
// configured, in-process memory otherwise.
func ProvideCache(cfg *config.Config, l *applogger.Logger) cache.Service {
	if !cfg.Cache.Redis.Enabled {
		return cache.NewMemoryCache()
	}

	host, port := splitHostPort(cfg.Cache.Redis.Addr)
	redisCache, err := cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Cache.Redis.Password),
		cache.WithRedisDB(cfg.Cache.Redis.DB),
	)
	if err != nil {
		l.Warn("redis unavailable, falling back to memory cache", applogger.Error(err))
		return cache.NewMemoryCache()
	}
	return cache.NewLayeredCache(redisCache)
}

func splitHostPort(addr string) (string, int) {
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok {
		return addr, 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 6379
	}
	return host, port
}

// ProvideRoutes wires the HTTP and WebSocket handlers.
func ProvideRoutes(
	l *applogger.Logger,
	source repository.QuoteSource,
	detector *usecase.SeriesDetector,
	fd *feed.Service,
	cacheSvc cache.Service,
	backend *AlertBackend,
) *api.Routes {
	market := api.NewMarketEchoHandler(l, source, detector, fd)
	market.SetCache(cacheSvc)
	if backend.Events != nil {
		market.SetEventReader(backend.Events)
	}
	return &api.Routes{
		Market: market,
		WS:     api.NewWSPricesHandler(l, fd),
	}
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	fd *feed.Service,
	monitor *usecase.PriceMonitor,
	backend *AlertBackend,
	routes *api.Routes,
) *server.App {
	return server.New(cfg, l, fd, monitor, backend, routes)
}
