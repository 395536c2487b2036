// Command seed applies the schema and loads demo data into an empty
// database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/blob"
	"github.com/iliyamo/visitor-access-control/internal/config"
	"github.com/iliyamo/visitor-access-control/internal/database"
	"github.com/iliyamo/visitor-access-control/internal/logger"
	"github.com/iliyamo/visitor-access-control/internal/repository"
	"github.com/iliyamo/visitor-access-control/internal/seed"
	"github.com/iliyamo/visitor-access-control/internal/service"
)

func main() {
	var opts seed.Options
	flag.StringVar(&opts.AdminUsername, "admin", "admin", "administrator username")
	flag.StringVar(&opts.AdminPassword, "admin-password", os.Getenv("SEED_ADMIN_PASSWORD"), "administrator password")
	flag.StringVar(&opts.OperatorPassword, "operator-password", os.Getenv("SEED_OPERATOR_PASSWORD"), "password of the demo operators")
	flag.Parse()
	if len(opts.AdminPassword) < service.MinPasswordLen || len(opts.OperatorPassword) < service.MinPasswordLen {
		fmt.Fprintf(os.Stderr, "passwords must have at least %d characters\n", service.MinPasswordLen)
		os.Exit(2)
	}

	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName+"-seed")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log, opts); err != nil {
		if errors.Is(err, seed.ErrAlreadySeeded) {
			log.Info("nothing to do", zap.Error(err))
			return
		}
		log.Fatal("seed failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger, opts seed.Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, database.Pool{})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
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

	sites := repository.NewSiteRepo(db)
	units := repository.NewOrgUnitRepo(db)
	persons := repository.NewPersonRepo(db)
	s := &seed.Seeder{
		Users: repository.NewUserRepo(db),
		Sites: service.NewSiteService(sites, units, log),
		Units: service.NewOrgUnitService(units, log),
		Visits: service.NewVisitService(sites, units, persons, repository.NewVisitRepo(db, cfg.Location()),
			service.NewPhotoService(store, persons, log), nil, nil, log),
		Cost: cfg.BcryptCost,
		Log:  log,
	}
	return s.Run(ctx, opts)
}
