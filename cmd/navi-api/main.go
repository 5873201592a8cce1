// README: Entry point; loads config, wires the navigation services, starts the HTTP server and background workers.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"navi/internal/config"
	httptransport "navi/internal/http"
	"navi/internal/infra"
	"navi/internal/logging"
	"navi/internal/maps"
	"navi/internal/modules/broadcast"
	"navi/internal/modules/journal"
	"navi/internal/modules/location"
	"navi/internal/modules/navigation"
	"navi/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logging.New(logging.Config{}).Error(context.Background(), "navi-api exited", logging.Err(err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return err
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()
	if err := infra.PingRedis(ctx, redisClient); err != nil {
		return err
	}

	source, err := navigation.ParseSourceFormat(cfg.Navigation.PolylineFormat)
	if err != nil {
		return err
	}
	if err := maps.CheckSourceFormat(source); err != nil {
		return err
	}
	clientCfg := maps.ClientConfig{
		Language: cfg.Maps.Language,
		Region:   cfg.Maps.Region,
		Timeout:  cfg.Navigation.EngineTimeout,
	}
	geocoder, err := maps.NewGeocodeService(cfg.Maps.APIKey, clientCfg)
	if err != nil {
		return err
	}

	journalStore := journal.NewStore(dbPool)
	if err := journalStore.EnsureSchema(ctx); err != nil {
		return err
	}
	recorder := journal.NewRecorder(journalStore, log)
	publisher := broadcast.NewPublisher(redisClient, log)

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		return err
	}

	navCfg := maps.NavigatorConfig{
		Client:             clientCfg,
		OffRouteToleranceM: cfg.Guidance.OffRouteToleranceM,
		ArrivalRadiusM:     cfg.Guidance.ArrivalRadiusM,
		EventBuffer:        cfg.Guidance.EventBuffer,
	}
	manager := navigation.NewManager(
		func() navigation.Engine { return maps.NewNavigator(navCfg, log) },
		navigation.ManagerConfig{
			Credentials:    cfg.Maps.APIKey,
			Normalizer:     navigation.NewNormalizer(source, cfg.Navigation.EncodedPrecision),
			RerouteTimeout: cfg.Navigation.RerouteTimeout,
			IdleTTL:        cfg.Navigation.SessionIdleTTL,
			JanitorTick:    cfg.Navigation.JanitorTick,
		},
		log,
		navigation.WithObserver(recorder),
		navigation.WithObserver(publisher),
		navigation.WithObserver(metrics),
		navigation.WithSessionGauge(metrics),
		navigation.WithAcquisitionObserver(metrics.ObserveAcquisition),
	)

	locationSvc := location.NewService(manager, location.NewStore(redisClient), location.Config{
		MinInterval: cfg.Location.MinInterval,
		MaxSpeedMps: cfg.Location.MaxSpeedMps,
	}, log)
	manager.OnClose(locationSvc.Forget)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Sessions: manager,
		Location: locationSvc,
		History:  journalStore,
		Geocoder: geocoder,
		Verifier: verifier,
		Metrics:  metrics.Handler(),
		Logger:   log,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}

	workers, cancelWorkers := context.WithCancel(context.Background())
	var drained sync.WaitGroup
	drained.Add(2)
	go func() {
		defer drained.Done()
		recorder.Run(workers)
	}()
	go func() {
		defer drained.Done()
		publisher.Run(workers)
	}()
	go manager.RunJanitor(workers)

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "navi-api listening", logging.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancelWorkers()
			return err
		}
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "http shutdown", logging.Err(err))
	}
	// Closing sessions emits their final notifications before the queues drain.
	manager.CloseAll(shutdownCtx)
	cancelWorkers()
	drained.Wait()
	return nil
}
