package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/crowdsense/internal/config"
	crowd_simulator "github.com/LeonardoBeccarini/crowdsense/internal/crowd-simulator"
	"github.com/LeonardoBeccarini/crowdsense/internal/observability"
	alert_engine "github.com/LeonardoBeccarini/crowdsense/internal/services/alert-engine"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/events"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/gateway/app"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/ingest"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/notifier"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/persistence"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/predictor"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/risk"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/scheduler"
	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
	"github.com/LeonardoBeccarini/crowdsense/pkg/rabbitmq"
)

func main() {
	// === Config ===
	logger.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_PRETTY") == "true")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}
	logger.Setup(cfg.LogLevel, cfg.LogPretty)
	log.Info().Str("env", cfg.Environment).Int("zones", len(cfg.Zones)).Int("events", len(cfg.Events)).Msg("crowdsense monitor starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Metrics ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// === Persistence ===
	var store persistence.Store
	switch cfg.StoreBackend {
	case "influx":
		is, err := persistence.NewInfluxStore(persistence.InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("influx store")
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if !is.Ping(pingCtx) {
			log.Warn().Str("url", cfg.InfluxURL).Msg("influx not reachable yet, writes will be retried per record")
		}
		pingCancel()
		store = is
	default:
		store = persistence.NewMemoryStore(cfg.MemoryCap)
	}
	defer store.Close()

	// === Prediction model ===
	var model predictor.Model
	if cfg.ModelEndpoint != "" {
		model, err = predictor.New(cfg.ModelEndpoint, predictor.Options{
			Timeout:         cfg.ModelTimeout,
			Zones:           cfg.ModelZones,
			BreakerFailures: cfg.ModelBreakerFails,
			BreakerOpenFor:  cfg.ModelBreakerOpenFor,
			OnBreakerChange: metrics.BreakerChanged,
		})
		if err != nil {
			log.Fatal().Err(err).Str("endpoint", cfg.ModelEndpoint).Msg("prediction model")
		}
		log.Info().Str("endpoint", cfg.ModelEndpoint).Strs("zones", cfg.ModelZones).Msg("prediction model enabled")
	}

	// === Email ===
	smtpTransport := notifier.NewSMTPTransport(notifier.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.EmailAddress,
		Password: cfg.EmailPassword,
	})
	mail := notifier.New(notifier.NewResilientTransport(smtpTransport, notifier.ResilientOptions{
		OnBreakerChange: metrics.BreakerChanged,
	}), cfg.DashboardURL)
	if cfg.EmailPassword == "" {
		log.Warn().Msg("EMAIL_PASSWORD not set, notifications will be logged and dropped")
	}

	// === Side effects ===
	pool := scheduler.NewPool(cfg.Workers, cfg.QueueSize, cfg.SideEffectTimeout, metrics)

	// === Events ===
	zoneNames := make(map[string]string, len(cfg.Zones))
	for _, z := range cfg.Zones {
		zoneNames[z.ID] = z.Name
	}
	registry, err := events.NewRegistry(cfg.Events, func(id string) string { return zoneNames[id] }, mail, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("event registry")
	}

	// === MQTT ===
	var (
		observations scheduler.ObservationSource
		snapshotPub  rabbitmq.IPublisher
		alertPub     rabbitmq.IPublisher
	)
	if cfg.MQTTEnabled {
		client, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
			Host:       cfg.MQTTHost,
			Port:       cfg.MQTTPort,
			User:       cfg.MQTTUser,
			Password:   cfg.MQTTPassword,
			ClientID:   cfg.MQTTClientID,
			MaxRetries: cfg.MQTTMaxRetries,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("mqtt connection")
		}
		defer rabbitmq.CloseRabbitMQConn(client)

		snapshotPub = rabbitmq.NewPublisher(client, cfg.SnapshotTopic)
		alertPub = rabbitmq.NewPublisher(client, cfg.AlertTopic)

		buf := ingest.NewBuffer(rabbitmq.NewConsumer(client, cfg.ObservationTopic, nil), ingest.Options{
			TTL:       cfg.ObservationTTL,
			Known:     func(id string) bool { _, ok := zoneNames[id]; return ok },
			OnDiscard: metrics.ObservationDiscarded,
		})
		go buf.Start(ctx)
		observations = buf
	}

	// === Pipeline ===
	bands, err := risk.ParseBands(cfg.PeakBands)
	if err != nil {
		log.Fatal().Err(err).Msg("peak bands")
	}
	scoring := risk.DefaultConfig()
	scoring.PeakBands = bands
	scoring.CapacityFloor = cfg.CapacityFloor

	deciding := alert_engine.DefaultConfig()
	deciding.OrganizerRole = cfg.OrganizerRole
	deciding.ThrottleInterval = cfg.ThrottleInterval
	deciding.CriticalCRI = cfg.CriticalCRI
	deciding.HighCRI = cfg.HighCRI
	deciding.SurgeThreshold = cfg.SurgeThreshold

	var clock crowd_simulator.Clock = crowd_simulator.WallClock{}
	if cfg.SimClock {
		clock = crowd_simulator.NewSimulatedClock(time.Now(), cfg.SimStep, cfg.SimStartHour, cfg.SimEndHour)
		log.Info().Dur("step", cfg.SimStep).Int("from", cfg.SimStartHour).Int("to", cfg.SimEndHour).Msg("simulated clock")
	}

	sched, err := scheduler.New(scheduler.Config{
		TickInterval: cfg.TickInterval,
		HistorySize:  cfg.HistorySize,
	}, scheduler.Deps{
		Zones: cfg.Zones,
		Estimator: crowd_simulator.NewDensityEstimator(crowd_simulator.Options{
			Model:        model,
			ModelWeight:  cfg.ModelWeight,
			ModelTimeout: cfg.ModelTimeout,
			Horizon:      cfg.ForecastHorizon,
		}),
		Scorer:            risk.NewScorer(scoring),
		Surge:             risk.NewSurgeDetector(cfg.SurgeThreshold),
		Decider:           alert_engine.NewDecider(deciding),
		Store:             store,
		Events:            registry,
		Observations:      observations,
		Alerts:            mail,
		SnapshotPublisher: snapshotPub,
		AlertPublisher:    alertPub,
		Pool:              pool,
		Clock:             clock,
		Recorder:          metrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler")
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	// === HTTP ===
	gw := app.NewGateway(app.Config{
		CORSOrigins: cfg.CORSOrigins,
		StaleAfter:  5 * cfg.TickInterval,
	}, sched, store, registry, metrics)

	hs := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// === Shutdown ===
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("shutting down")

	cancel()
	<-schedDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := pool.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("side effects not drained")
	}
	if err := hs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("bye")
}
