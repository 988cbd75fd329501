package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitechdev/TopicSpec/pkg/config"
	"github.com/bitechdev/TopicSpec/pkg/errortracking"
	"github.com/bitechdev/TopicSpec/pkg/logger"
	"github.com/bitechdev/TopicSpec/pkg/metrics"
	"github.com/bitechdev/TopicSpec/pkg/middleware"
	"github.com/bitechdev/TopicSpec/pkg/poller"
	"github.com/bitechdev/TopicSpec/pkg/server"
	"github.com/bitechdev/TopicSpec/pkg/topicspec"
	"github.com/bitechdev/TopicSpec/pkg/tracing"
	"github.com/bitechdev/TopicSpec/pkg/transport/factory"
	"github.com/bitechdev/TopicSpec/pkg/transport/mqtt"
)

// loadConfig reads and validates the configuration from configFile, or from
// the default search paths when it is empty
func loadConfig(configFile string) (*config.Config, string, error) {
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	cfgMgr := config.NewManagerWithOptions(opts...)
	if err := cfgMgr.Load(); err != nil {
		return nil, "", fmt.Errorf("load configuration: %w", err)
	}
	cfg, err := cfgMgr.GetConfig()
	if err != nil {
		return nil, "", fmt.Errorf("get configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, cfgMgr.ConfigFileUsed(), nil
}

func run(configFile string) error {
	cfg, cfgUsed, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	logger.Init(cfg.Logger.Dev)
	if cfg.Logger.Path != "" {
		logger.UpdateLoggerPath(cfg.Logger.Path, cfg.Logger.Dev)
	}
	if err := logger.SetLevel(cfg.Logger.Level); err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("topicsub %s starting with %s transport, config %q", version, cfg.Transport.Kind, cfgUsed)

	tracker, err := errortracking.NewProviderFromConfig(cfg.ErrorTracking)
	if err != nil {
		return fmt.Errorf("error tracking: %w", err)
	}
	logger.InitErrorTracking(tracker)
	defer func() {
		if err := logger.CloseErrorTracking(); err != nil {
			logger.Warn("Closing error tracking: %v", err)
		}
	}()

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Endpoint:       cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("Shutting down tracer: %v", err)
		}
	}()

	if cfg.Metrics.Enabled && cfg.Metrics.Provider == "prometheus" {
		metrics.SetProvider(metrics.NewPrometheusProvider(&metrics.Config{
			Enabled:   true,
			Provider:  cfg.Metrics.Provider,
			Namespace: cfg.Metrics.Namespace,
		}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Transport.Kind == "mqtt" && cfg.Transport.MQTT.Embedded.Enabled {
		broker := factory.EmbeddedBroker(cfg.Transport.MQTT.Embedded)
		if err := broker.Start(ctx); err != nil {
			return fmt.Errorf("start embedded broker: %w", err)
		}
		defer stopBroker(broker)
	}

	client, err := factory.New(cfg.Transport)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	mgr, err := topicspec.NewManager(client,
		topicspec.WithSessionConfig(cfg.Session),
		topicspec.WithConnectTimeout(cfg.Transport.ConnectTimeout),
		topicspec.WithDisconnectHook(topicspec.DisconnectHookFunc(func() {
			logger.Warn("Shared connection given up, subscriptions fall back to polling")
		})),
	)
	if err != nil {
		return fmt.Errorf("subscription manager: %w", err)
	}

	var httpPoller *poller.HTTPPoller
	if cfg.Poller.BaseURL != "" {
		if httpPoller, err = poller.New(cfg.Poller); err != nil {
			return fmt.Errorf("poller: %w", err)
		}
	}

	if err := subscribeTopics(ctx, mgr, cfg.Topics, httpPoller); err != nil {
		return err
	}

	routerOpts := server.RouterOptions{}
	if cfg.Metrics.Enabled {
		routerOpts.MetricsPath = cfg.Metrics.Path
		routerOpts.Metrics = metrics.GetProvider().Handler()
	}
	if cfg.Server.RateLimit > 0 {
		routerOpts.RateLimiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.Burst)
	}
	status := server.NewGracefulServer(cfg.Server, server.NewRouter(mgr, routerOpts))
	serverErr, err := status.Start()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("Signal received, shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.Error("Status server stopped: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := status.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Status server shutdown: %v", err)
	}
	if err := mgr.Close(shutdownCtx); err != nil {
		logger.Warn("Closing subscription manager: %v", err)
	}
	logger.Info("topicsub stopped")
	return nil
}

// subscribeTopics subscribes every configured topic, logging its messages
func subscribeTopics(ctx context.Context, mgr *topicspec.Manager, topics []string, httpPoller *poller.HTTPPoller) error {
	for _, topic := range topics {
		sink := logSink(topic)
		sub, err := mgr.Subscribe(ctx, topic,
			topicspec.WithMessageSink(sink),
			topicspec.WithPoller(topicPoller(httpPoller, topic, sink.OnMessage)),
		)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		logger.Info("Subscribed to %s as %s (bound: %t)", topic, sub.ID(), sub.Bound())
	}
	return nil
}

// awaitReconnect keeps a subscription registered while the connection is
// retried. Without it an unbound subscription drops itself on its first
// poll tick, which comes before the first retry.
var awaitReconnect = topicspec.PollerFunc(func(ctx context.Context) (bool, error) {
	return true, nil
})

// topicPoller returns the HTTP probe for topic, or awaitReconnect when no
// poller base URL is configured
func topicPoller(httpPoller *poller.HTTPPoller, topic string, deliver func([]byte)) topicspec.Poller {
	if httpPoller == nil {
		return awaitReconnect
	}
	return httpPoller.ForTopic(topic, deliver)
}

// logSink logs every message delivered for topic
func logSink(topic string) topicspec.MessageSinkFunc {
	return func(body []byte) {
		logger.Info("[%s] %d byte message: %.200s", topic, len(body), body)
	}
}

func stopBroker(broker *mqtt.EmbeddedBroker) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := broker.Stop(ctx); err != nil {
		logger.Warn("Stopping embedded broker: %v", err)
	}
}
