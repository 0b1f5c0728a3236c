package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	aggapp "greenledger/internal/aggregation/application"
	aggevents "greenledger/internal/aggregation/application/events"
	aggregation "greenledger/internal/aggregation/domain"
	agghttp "greenledger/internal/aggregation/interfaces/http"
	alertapp "greenledger/internal/alerting/application"
	alerting "greenledger/internal/alerting/domain"
	alertmemory "greenledger/internal/alerting/infrastructure/memory"
	alertpostgres "greenledger/internal/alerting/infrastructure/postgres"
	alerthttp "greenledger/internal/alerting/interfaces/http"
	alertnotify "greenledger/internal/alerting/notify"
	"greenledger/internal/anomaly"
	"greenledger/internal/auth"
	"greenledger/internal/config"
	"greenledger/internal/eventing"
	"greenledger/internal/observability/metrics"
	telemetryevents "greenledger/internal/telemetry/application/events"
	telemetry "greenledger/internal/telemetry/domain"
	ingesthttp "greenledger/internal/telemetry/interfaces/ingest"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := log.New(os.Stdout, "", log.LstdFlags)

	metrics.Init()

	var violationRepo alertapp.ViolationRepository
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		violationRepo = alertpostgres.NewViolationRepository(db)
	} else {
		logger.Printf("no database configured, using in-memory violation store")
		violationRepo = alertmemory.NewViolationRepository()
	}

	bus := eventing.NewInMemoryBus()
	publisher, err := eventing.NewPublisher(bus)
	if err != nil {
		logger.Fatalf("publisher error: %v", err)
	}
	processed := eventing.NewMemoryProcessedStore(0)

	calc, err := telemetry.NewCalculator(telemetry.EmissionFactors{
		GridKWhFactor:     cfg.Factors.GridKWh,
		DieselLiterFactor: cfg.Factors.DieselLiter,
	})
	if err != nil {
		logger.Fatalf("calculator error: %v", err)
	}
	registry := telemetry.NewPlantRegistry(cfg.Plants)

	granularities, err := parseGranularities(cfg.Granularities)
	if err != nil {
		logger.Fatalf("granularities error: %v", err)
	}
	evaluate, err := parseGranularities(cfg.EvaluateGranularities)
	if err != nil {
		logger.Fatalf("evaluate granularities error: %v", err)
	}

	aggService, err := aggapp.NewService(calc, registry, publisher, logger,
		aggapp.WithGranularities(granularities),
		aggapp.WithGrace(cfg.Grace),
		aggapp.WithLaneBuffer(cfg.LaneBuffer),
	)
	if err != nil {
		logger.Fatalf("aggregation service error: %v", err)
	}

	broker := alerthttp.NewSSEBroker()
	notifiers := []alertapp.Notifier{broker}
	if cfg.WebhookURL != "" {
		channel, err := alertnotify.NewWebhookChannel(cfg.WebhookURL)
		if err != nil {
			logger.Fatalf("webhook channel error: %v", err)
		}
		template, err := alertnotify.NewTemplate(cfg.NotifyTemplate)
		if err != nil {
			logger.Fatalf("notify template error: %v", err)
		}
		webhookNotifier, err := alertnotify.NewNotifier(channel, template,
			alertnotify.WithCooldown(cfg.NotifyCooldown),
			alertnotify.WithDedupeWindow(cfg.NotifyDedupeWindow),
		)
		if err != nil {
			logger.Fatalf("notifier error: %v", err)
		}
		notifiers = append(notifiers, webhookNotifier)
	}

	engine, err := alertapp.NewEngine(violationRepo, logger,
		alertapp.WithThresholds(alerting.Thresholds{
			InfoKgPerHr:      cfg.Thresholds.Info,
			WarningKgPerHr:   cfg.Thresholds.Warning,
			CriticalKgPerHr:  cfg.Thresholds.Critical,
			EmergencyKgPerHr: cfg.Thresholds.Emergency,
		}),
		alertapp.WithConfirmations(cfg.Confirmations),
		alertapp.WithEvaluatedGranularities(evaluate),
		alertapp.WithNotifier(alertnotify.NewMultiNotifier(notifiers...)),
	)
	if err != nil {
		logger.Fatalf("compliance engine error: %v", err)
	}

	detector, err := anomaly.NewDetector(publisher, logger,
		anomaly.WithWindow(cfg.Anomaly.Window),
		anomaly.WithMinSamples(cfg.Anomaly.MinSamples),
		anomaly.WithZThreshold(cfg.Anomaly.ZThreshold),
		anomaly.WithMaxTemperature(cfg.Anomaly.MaxTemperature),
	)
	if err != nil {
		logger.Fatalf("anomaly detector error: %v", err)
	}

	eventing.Subscribe(bus, eventing.EventTypeOf[aggevents.SnapshotClosed](), "alerting.engine", func(ctx context.Context, event any) error {
		evt, ok := event.(aggevents.SnapshotClosed)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return engine.HandleSnapshotClosed(ctx, evt)
	}, processed)
	eventing.Subscribe(bus, eventing.EventTypeOf[telemetryevents.ReadingAccepted](), "anomaly.detector", func(ctx context.Context, event any) error {
		evt, ok := event.(telemetryevents.ReadingAccepted)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return detector.HandleReadingAccepted(ctx, evt)
	}, processed)

	ingestHandler, err := ingesthttp.NewHandler(aggService, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	snapshotsHandler, err := agghttp.NewHandler(aggService, granularities)
	if err != nil {
		logger.Fatalf("snapshots handler error: %v", err)
	}
	violationsHandler, err := alerthttp.NewHandler(engine)
	if err != nil {
		logger.Fatalf("violations handler error: %v", err)
	}

	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), cfg.IngestMaxSkew)
	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics", "/api/v1/readings"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/readings", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/snapshots", snapshotsHandler)
	mux.Handle("/api/v1/violations", violationsHandler)
	mux.Handle("/api/v1/violations/export", violationsHandler)
	mux.Handle("/api/v1/violations/stream", alerthttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/alerts/", violationsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go aggService.Run(ctx)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutdown requested, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown error: %v", err)
	}
	aggService.Shutdown()
	logger.Printf("drained, bye")
}

func parseGranularities(values []string) ([]aggregation.Granularity, error) {
	out := make([]aggregation.Granularity, 0, len(values))
	for _, value := range values {
		g, err := aggregation.ParseGranularity(value)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
