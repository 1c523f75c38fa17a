package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"restock-bot/internal/restock"
	"restock-bot/internal/restore"
	"restock-bot/internal/storage"
)

type App struct {
	store     restock.Store
	session   *Session
	scheduler *restock.Scheduler
	metrics   *http.Server
	cancel    context.CancelFunc
	done      chan struct{}
}

func launch(ctx context.Context, token string) (*App, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	app := &App{store: store, done: make(chan struct{})}
	if err := app.init(token); err != nil {
		_ = store.Close()
		return nil, err
	}

	ctx, app.cancel = context.WithCancel(ctx)
	go func() {
		defer close(app.done)
		app.session.Run(ctx)
	}()

	app.scheduler.Start()
	if args.CheckOnStart {
		app.scheduler.RunNow()
	}

	log.Info("app did finish launching")
	return app, nil
}

func (app *App) init(token string) error {
	location, err := time.LoadLocation(args.Timezone)
	if err != nil {
		return errors.Wrapf(err, "load timezone %s", args.Timezone)
	}

	fetcher := restore.NewClient(restore.Config{
		BaseURL: args.Catalog,
		Timeout: args.Timeout,
		Rate:    args.Rate,
	})

	commands := restock.NewCommands(app.store, fetcher)
	app.session, err = NewSession(token, commands)
	if err != nil {
		return err
	}

	engine := restock.NewEngine(app.store, fetcher, app.session, restock.NewMetrics(prometheus.DefaultRegisterer), restock.EngineConfig{
		Concurrency: args.Concurrency,
		Retention:   args.Retention,
	})

	app.scheduler, err = restock.NewScheduler(args.Schedule, location, func(ctx context.Context) {
		engine.Tick(ctx)
	})

	if err != nil {
		return err
	}

	if args.Metrics != "" {
		app.serveMetrics(args.Metrics)
	}

	return nil
}

func (app *App) serveMetrics(address string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	app.metrics = &http.Server{Addr: address, Handler: mux}
	go func() {
		if err := app.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	log.WithField("address", address).Info("serving metrics")
}

// stop shuts everything down, abandoning a running tick when ctx expires.
func (app *App) stop(ctx context.Context) {
	if err := app.scheduler.Stop(ctx); err != nil {
		log.WithError(err).Warn("scheduler did not stop in time")
	}

	app.cancel()
	select {
	case <-app.done:
	case <-ctx.Done():
		log.Warn("telegram session did not stop in time")
	}

	if app.metrics != nil {
		if err := app.metrics.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("failed to stop metrics server")
		}
	}

	if err := app.store.Close(); err != nil {
		log.WithError(err).Warn("failed to close store")
	}

	log.Info("app stopped")
}

func openStore(ctx context.Context) (restock.Store, error) {
	encodedCredential := args.FirebaseConf
	if encodedCredential == "" && args.FirebaseConfEnvKey != "" {
		encodedCredential = os.Getenv(args.FirebaseConfEnvKey)
	}

	if encodedCredential != "" {
		credential, err := base64.StdEncoding.DecodeString(encodedCredential)
		if err != nil {
			return nil, errors.Wrap(err, "decode firebase credential")
		}

		if len(credential) == 0 {
			return nil, errors.New(errFirebaseCredentialEmpty)
		}

		return storage.OpenFirebase(ctx, credential)
	}

	if args.Database == ":memory:" {
		log.Warn("items are kept in memory and will be lost on exit")
		return storage.NewMemCache(), nil
	}

	store, err := storage.OpenSQL(args.Database)
	if err != nil {
		return nil, err
	}

	log.WithField("path", args.Database).Info("database opened")
	return store, nil
}
