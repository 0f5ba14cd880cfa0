package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/RaikyD/vin-report-service/internal/application"
	"github.com/RaikyD/vin-report-service/internal/config"
	"github.com/RaikyD/vin-report-service/internal/dedupe"
	"github.com/RaikyD/vin-report-service/internal/delivery"
	"github.com/RaikyD/vin-report-service/internal/kafka"
	"github.com/RaikyD/vin-report-service/internal/logger"
	"github.com/RaikyD/vin-report-service/internal/mailer"
	"github.com/RaikyD/vin-report-service/internal/metrics"
	"github.com/RaikyD/vin-report-service/internal/migrate"
	"github.com/RaikyD/vin-report-service/internal/presentation"
	"github.com/RaikyD/vin-report-service/internal/render"
	"github.com/RaikyD/vin-report-service/internal/report"
	"github.com/RaikyD/vin-report-service/internal/repository"
	"github.com/RaikyD/vin-report-service/internal/vindecoder"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Init("development")
		logger.Fatal("config load failed", "err", err)
	}
	logger.Init(cfg.APP_ENV)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "err", err)
	}
	if cfg.WEBHOOK_SECRET == "" {
		logger.Warn("WEBHOOK_SECRET is empty, webhook and ops endpoints accept unauthenticated requests")
	}
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := application.Deps{}

	// Dedupe store
	switch cfg.DEDUPE_BACKEND {
	case "redis":
		store, err := dedupe.NewRedisStoreFromURL(ctx, cfg.REDIS_URL, "")
		if err != nil {
			logger.Fatal("redis dedupe store", "err", err)
		}
		defer store.Close()
		deps.Store = store
		logger.Info("dedupe store: redis")
	default:
		store := dedupe.NewMemoryStore()
		sweeper, err := dedupe.StartSweeper(store, cfg.DEDUPE_SWEEP_SCHEDULE)
		if err != nil {
			logger.Fatal("dedupe sweeper", "err", err)
		}
		defer sweeper.Stop()
		deps.Store = store
		logger.Info("dedupe store: memory, single instance only")
	}

	// Provider + report assembly
	client := vindecoder.NewClient(vindecoder.Config{
		BaseURL:   cfg.VINDECODER_BASE_URL,
		APIKey:    cfg.VINDECODER_API_KEY,
		SecretKey: cfg.VINDECODER_SECRET_KEY,
		Timeout:   cfg.VINDECODER_TIMEOUT,
		RPS:       cfg.VINDECODER_RPS,
		Burst:     cfg.VINDECODER_BURST,
	})
	deps.Reports = report.NewAssembler(client)

	switch cfg.RENDERER {
	case "gotenberg":
		deps.Renderer = render.NewGotenbergRenderer(cfg.GOTENBERG_URL, cfg.RENDER_TIMEOUT)
	default:
		deps.Renderer = render.NewChromeRenderer(cfg.CHROME_PATH)
	}

	// Mail
	var m mailer.Mailer = mailer.LogMailer{}
	if cfg.EMAIL_ENABLED {
		m = mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTP_HOST,
			Port:     cfg.SMTP_PORT,
			Username: cfg.SMTP_USER,
			Password: cfg.SMTP_PASSWORD,
			From:     cfg.MAIL_FROM,
			Timeout:  cfg.MAIL_TIMEOUT,
		})
	}
	deps.Alerter = mailer.NewAlerter(m, cfg.ADMIN_EMAIL, cfg.ALERT_PAYLOAD_LIMIT)

	var diskStore *delivery.DiskStore
	switch cfg.DELIVERY_MODE {
	case "link":
		var store delivery.ObjectStore
		if cfg.LINK_STORE == "s3" {
			s3Store, err := delivery.NewS3Store(ctx, delivery.S3StoreConfig{
				Bucket:   cfg.S3_BUCKET,
				Region:   cfg.S3_REGION,
				Endpoint: cfg.S3_ENDPOINT,
				Prefix:   cfg.S3_PREFIX,
				LinkTTL:  cfg.LINK_TTL,
			})
			if err != nil {
				logger.Fatal("s3 link store", "err", err)
			}
			store = s3Store
		} else {
			diskStore, err = delivery.NewDiskStore(cfg.FILES_DIR, cfg.BASE_PUBLIC_URL)
			if err != nil {
				logger.Fatal("disk link store", "err", err)
			}
			store = diskStore
		}
		deps.Deliverer = delivery.NewLinkDeliverer(m, store, cfg.LINK_TTL)
	default:
		deps.Deliverer = delivery.NewAttachmentDeliverer(m)
	}

	// Journal (optional)
	if cfg.DB_STRING != "" {
		if err := migrate.Up(cfg.DB_STRING); err != nil {
			logger.Fatal("migrations failed", "err", err)
		}
		pool, err := repository.Connect(ctx, cfg.DB_STRING)
		if err != nil {
			logger.Fatal("db connect failed", "err", err)
		}
		defer pool.Close()
		deps.Journal = repository.NewDeliveryRepository(pool)
		logger.Info("db connected")
	}

	// Kafka (optional)
	var prod *kafka.Producer
	if cfg.KAFKA_BROKERS != "" {
		prod = kafka.NewProducer(cfg.KAFKA_BROKERS, cfg.KAFKA_EVENTS_TOPIC, cfg.KAFKA_RESEND_TOPIC)
		defer prod.Close()
		deps.Events = prod
	}

	p := application.NewPipeline(deps, application.Options{
		Secret:          cfg.WEBHOOK_SECRET,
		DedupeTTL:       cfg.DEDUPE_TTL,
		PDFEnabled:      cfg.PDF_ENABLED,
		EmailDisabled:   !cfg.EMAIL_ENABLED,
		MaxConcurrent:   cfg.MAX_CONCURRENT_PIPELINES,
		PipelineTimeout: cfg.PIPELINE_TIMEOUT,
		DecodeTimeout:   cfg.DECODE_TIMEOUT,
		RenderTimeout:   cfg.RENDER_TIMEOUT,
		MailTimeout:     cfg.MAIL_TIMEOUT,
	})

	if prod != nil {
		kafka.StartResendConsumer(ctx, p, kafka.ConsumerConfig{
			Brokers: cfg.KAFKA_BROKERS,
			Topic:   cfg.KAFKA_RESEND_TOPIC,
			GroupID: cfg.KAFKA_GROUP_ID,
		})
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument)
	r.Use(middleware.Timeout(60 * time.Second))

	h := presentation.NewOrdersHandler(p, presentation.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		StartedAt: time.Now(),
	}, presentation.Options{
		MaxBodyBytes:   cfg.MAX_BODY_BYTES,
		DebugEndpoints: cfg.DEBUG_ENDPOINTS,
	})
	h.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	if diskStore != nil {
		presentation.MountFiles(r, cfg.FILES_DIR)
		if sw, err := startFilePruner(diskStore, cfg.LINK_TTL); err != nil {
			logger.Warn("file pruner not scheduled", "err", err)
		} else {
			defer sw.Stop()
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP_PORT,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting http", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server crashed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
}

// startFilePruner removes hosted PDFs once their links have expired.
func startFilePruner(s *delivery.DiskStore, maxAge time.Duration) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger.Printf()))))
	if _, err := c.AddFunc("@every 1h", func() {
		n, err := s.Prune(maxAge)
		if err != nil {
			logger.Warn("file prune failed", "err", err)
			return
		}
		if n > 0 {
			logger.Info("expired report files removed", "count", n)
		}
	}); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
