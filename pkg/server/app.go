package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"IntelWatch/pkg/config"
	xhttp "IntelWatch/pkg/http"
	pkgkafka "IntelWatch/pkg/kafka"
	applogger "IntelWatch/pkg/logger"
)

// Component is anything the app starts and stops with itself.
type Component interface {
	Start() error
	Stop(ctx context.Context) error
}

// Closer releases an infrastructure client at shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	queue      Component
	scheduler  Component
	consumer   *pkgkafka.Consumer
	handlers   []pkgkafka.MessageHandler
	httpServer *xhttp.Server
	closers    []Closer
}

// New creates a new App instance with all dependencies. consumer may be nil
// when Kafka is disabled.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	queue Component,
	scheduler Component,
	consumer *pkgkafka.Consumer,
	httpServer *xhttp.Server,
) *App {
	if log == nil {
		log = applogger.Nop()
	}
	return &App{
		cfg:        cfg,
		log:        log,
		queue:      queue,
		scheduler:  scheduler,
		consumer:   consumer,
		httpServer: httpServer,
	}
}

// AddConsumerHandler registers a topic handler started with the consumer.
func (a *App) AddConsumerHandler(h pkgkafka.MessageHandler) {
	if h != nil {
		a.handlers = append(a.handlers, h)
	}
}

// AddCloser registers a resource closed after every component has stopped.
// Closers run in reverse registration order.
func (a *App) AddCloser(name string, fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, Closer{Name: name, Close: fn})
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done, then shuts
// down gracefully.
func (a *App) RunContext(ctx context.Context) error {
	if err := a.start(); err != nil {
		a.shutdown()
		return err
	}
	<-ctx.Done()
	a.log.Info("shutdown signal received")
	a.shutdown()
	return nil
}

func (a *App) start() error {
	if err := a.queue.Start(); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	a.log.Info("task queue started", applogger.Int("workers", a.cfg.Queue.Workers))

	if a.consumer != nil && len(a.handlers) > 0 {
		topics := make([]string, 0, len(a.handlers))
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
			topics = append(topics, h.Topic())
		}
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.Strings("topics", topics))
	}

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	a.log.Info("intelwatch started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("storage", a.cfg.Storage.Mode),
		applogger.Int("port", a.cfg.Server.Port),
	)
	return nil
}

// shutdown stops intake first, then drains the queue and closes
// infrastructure clients.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	if a.consumer != nil && len(a.handlers) > 0 {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if err := a.scheduler.Stop(ctx); err != nil {
		a.log.Warn("scheduler stop error", applogger.Error(err))
	}
	if err := a.queue.Stop(ctx); err != nil {
		a.log.Warn("queue stop error", applogger.Error(err))
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("resource", c.Name), applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
