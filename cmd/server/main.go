package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/blob"
	"github.com/iliyamo/visitor-access-control/internal/config"
	"github.com/iliyamo/visitor-access-control/internal/database"
	"github.com/iliyamo/visitor-access-control/internal/handler"
	"github.com/iliyamo/visitor-access-control/internal/logger"
	"github.com/iliyamo/visitor-access-control/internal/metrics"
	"github.com/iliyamo/visitor-access-control/internal/middleware"
	"github.com/iliyamo/visitor-access-control/internal/queue"
	"github.com/iliyamo/visitor-access-control/internal/report"
	"github.com/iliyamo/visitor-access-control/internal/repository"
	"github.com/iliyamo/visitor-access-control/internal/router"
	"github.com/iliyamo/visitor-access-control/internal/service"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply the embedded schema before serving")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		// the logger depends on config; report on stderr
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log, *migrate); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, database.Pool{})
	if err != nil {
		return err
	}
	defer db.Close()
	if migrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		log.Info("schema applied")
	}

	store, err := blob.Open(ctx, blob.Options{
		Driver: cfg.PhotoStore,
		S3: blob.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			Prefix:    cfg.S3Prefix,
		},
	}, db)
	if err != nil {
		return err
	}

	var (
		events  service.EventPublisher
		opStats service.MetricsRecorder
		httpRec middleware.HTTPRecorder
		promH   http.Handler
	)
	if cfg.RabbitURL != "" {
		events = queue.NewPublisher(cfg.RabbitURL, log.Named("queue"))
		go func() {
			if err := queue.NewConsumer(cfg.RabbitURL, cfg.EventLogDir, log.Named("consumer")).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("visit consumer stopped", zap.Error(err))
			}
		}()
	} else {
		log.Info("RABBITMQ_URL not set, visit events disabled")
	}
	if cfg.MetricsEnabled {
		rec := metrics.New()
		opStats, httpRec = rec, rec
		promH = promhttp.HandlerFor(rec.Registry, promhttp.HandlerOpts{})
	}

	loc := cfg.Location()
	sites := repository.NewSiteRepo(db)
	units := repository.NewOrgUnitRepo(db)
	persons := repository.NewPersonRepo(db)
	visits := repository.NewVisitRepo(db, loc)
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	photoSvc := service.NewPhotoService(store, persons, log)
	visitSvc := service.NewVisitService(sites, units, persons, visits, photoSvc, events, opStats, log)
	querySvc := service.NewQueryService(visits, persons)
	personSvc := service.NewPersonService(persons, photoSvc, log)
	siteSvc := service.NewSiteService(sites, units, log)
	unitSvc := service.NewOrgUnitService(units, log)
	userSvc := service.NewUserService(users, tokens, sites, cfg.BcryptCost, log)

	pdf, err := report.NewPDF(cfg.PDFEnabled, cfg.LogoPath)
	if err != nil {
		log.Warn("report logo not loaded", zap.Error(err))
	}
	pdf.Photos = func(ctx context.Context, personID uint64) ([]byte, string, bool) {
		data, ct, err := photoSvc.Load(ctx, personID)
		return data, ct, err == nil
	}

	rdb, err := config.NewRedisClient(config.LoadRedisConfig())
	if err != nil {
		log.Warn("redis unavailable, rate limiting and caching disabled", zap.Error(err))
	} else {
		defer rdb.Close()
	}
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, log)

	errs := handler.Errors{Log: log}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log.Named("http"), httpRec))

	var purger handler.Purger
	if cache != nil {
		purger = cache
	}
	router.Register(e, router.Deps{
		Auth:     handler.NewAuthHandler(cfg, userSvc, tokens, errs),
		Home:     handler.NewHomeHandler(querySvc, errs),
		Visits:   handler.NewVisitHandler(visitSvc, querySvc, loc, errs),
		Persons:  handler.NewPersonHandler(personSvc, photoSvc, querySvc, errs),
		Sites:    handler.NewSiteHandler(siteSvc, unitSvc, purger, errs),
		OrgUnits: handler.NewOrgUnitHandler(unitSvc, purger, errs),
		Users:    handler.NewUserHandler(userSvc, errs),
		Reports:  handler.NewReportHandler(querySvc, pdf, loc, errs),

		JWTSecret: cfg.JWTSecret,
		LoginURL:  cfg.LoginURL,
		Actors:    userSvc,
		Log:       log,
		DB:        db,

		Metrics:    promH,
		Cache:      cache,
		Limit:      middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log),
		LoginLimit: middleware.NewTokenBucket(config.LoadLoginRateLimitConfig(), rdb, log),
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	log.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env),
		zap.String("photo_store", string(store.Driver())), zap.String("tz", loc.String()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
