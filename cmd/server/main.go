package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	logrus "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"fleettrack/internal/config"
	"fleettrack/internal/controllers"
	"fleettrack/internal/geo"
	"fleettrack/internal/hub"
	"fleettrack/internal/ingest"
	"fleettrack/internal/logger"
	"fleettrack/internal/publisher"
	"fleettrack/internal/routes"
	"fleettrack/internal/store"
	"fleettrack/internal/track"
)

func main() {
	// Initialize structured logging to file
	logger.Setup()

	settings := config.LoadSettings()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to the database and migrate the schema
	db, err := config.InitDB()
	if err != nil {
		logrus.WithError(err).Fatal("Could not initialize database.")
	}

	// Optional backends
	rdb, err := config.NewRedis(ctx, settings)
	if err != nil {
		logrus.WithError(err).Fatal("Could not connect to Redis.")
	}
	mq, err := config.NewRabbitMQ(settings)
	if err != nil {
		logrus.WithError(err).Fatal("Could not connect to RabbitMQ.")
	}

	// Retention store
	storeSvc := store.NewService(
		store.NewGormSampleRepo(db),
		store.NewGormTelemetryRepo(db),
		store.Options{
			WriteMaxAttempts:   settings.WriteMaxAttempts,
			SampleRetention:    settings.SampleRetention,
			TelemetryRetention: settings.TelemetryRetention,
		},
	)

	// Spatial index over the geofence/zone catalog
	index := geo.NewIndex(store.NewGormCatalog(db))
	if err := index.Reload(ctx); err != nil {
		logrus.WithError(err).Fatal("Could not load the geofence catalog.")
	}

	// Zone evaluator, with state restored from Redis when configured
	eval := track.NewEvaluator(index, track.EvaluatorOptions{
		AccidentDedupe:   settings.AccidentDedupe,
		VehicleIdleEvict: settings.VehicleIdleEviction,
	})
	var checkpointer *track.RedisCheckpointer
	if rdb != nil {
		checkpointer = track.NewRedisCheckpointer(rdb)
		restored, err := checkpointer.RestoreAll(ctx, eval)
		if err != nil {
			logrus.WithError(err).Warn("State restore from Redis is incomplete.")
		}
		logrus.WithField("vehicles", restored).Info("Restored evaluator state.")
	}

	// Subscription hub and broker fan-out
	h := hub.New(settings.SubscriberQueueHigh, settings.SubscriberQueueKill)
	h.SetTenantLookup(store.NewGormVehicleDirectory(db))
	var sink ingest.EventSink
	if mq != nil {
		pub, err := publisher.NewAMQPEventPublisher(mq)
		if err != nil {
			logrus.WithError(err).Fatal("Could not set up the event publisher.")
		}
		defer pub.Close()
		sink = pub
	}

	ingestSvc := ingest.NewService(storeSvc, eval, h, sink, ingest.Options{
		MaxClockSkew:  settings.MaxClockSkew,
		SamplesPerSec: settings.SampleRatePerSec,
		SampleBurst:   settings.SampleBurst,
	})

	router := routes.SetupRouter(&routes.Controllers{
		Auth:          controllers.NewAuthController(db, settings.DeviceTokenTTL),
		Geofences:     controllers.NewGeofenceController(db, index),
		AccidentZones: controllers.NewAccidentZoneController(db, index),
		Tracking:      controllers.NewTrackingController(storeSvc, eval),
		Producer:      controllers.NewProducerSocketController(ingestSvc, settings.ProducerIdleTimeout),
		Subscriber:    controllers.NewSubscriberSocketController(h, settings.HeartbeatInterval, settings.SubscriberIdleTimeout),
		Health:        controllers.NewHealthController(db, rdb, mq),
	})

	srv := &http.Server{
		Addr:    settings.HTTPAddr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		storeSvc.RunExpiry(gctx, settings.ExpiryInterval)
		return nil
	})
	g.Go(func() error {
		index.RunRefresh(gctx, settings.IndexRefreshInterval)
		return nil
	})
	g.Go(func() error {
		eval.RunEviction(gctx.Done(), time.Hour)
		return nil
	})
	g.Go(func() error {
		ingestSvc.RunSink(gctx)
		return nil
	})
	if checkpointer != nil {
		g.Go(func() error {
			checkpointer.Run(gctx, eval.Checkpoints())
			return nil
		})
	}
	g.Go(func() error {
		logrus.WithField("addr", settings.HTTPAddr).Info("Server running.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		// Say goodbye to live subscribers before tearing the listener down.
		h.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Fatal("Server exited with an error.")
	}
	logrus.Info("Server stopped.")
}
