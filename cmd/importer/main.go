// Command importer loads legacy exports: persons from JSON or XLSX,
// photos from a "dni;photo" CSV and user accounts from a CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/blob"
	"github.com/iliyamo/visitor-access-control/internal/config"
	"github.com/iliyamo/visitor-access-control/internal/database"
	"github.com/iliyamo/visitor-access-control/internal/importer"
	"github.com/iliyamo/visitor-access-control/internal/logger"
	"github.com/iliyamo/visitor-access-control/internal/repository"
	"github.com/iliyamo/visitor-access-control/internal/service"
)

func main() {
	kind := flag.String("kind", "", "persons-json | persons-xlsx | photos-csv | users-csv")
	file := flag.String("file", "", "input file")
	password := flag.String("default-password", os.Getenv("IMPORT_DEFAULT_PASSWORD"), "password for imported users")
	flag.Parse()
	if *kind == "" || *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName+"-importer")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log, *kind, *file, *password); err != nil {
		log.Fatal("import failed", zap.String("kind", *kind), zap.String("file", *file), zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger, kind, path, password string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, database.Pool{})
	if err != nil {
		return err
	}
	defer db.Close()
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

	persons := repository.NewPersonRepo(db)
	im := &importer.Importer{
		Persons: persons,
		Users:   repository.NewUserRepo(db),
		Photos:  service.NewPhotoService(store, persons, log),
		Cost:    cfg.BcryptCost,
		Log:     log,
	}

	var sum importer.Summary
	switch kind {
	case "persons-json", "persons-xlsx":
		read := importer.ReadPersonsJSON
		if kind == "persons-xlsx" {
			read = importer.ReadPersonsXLSX
		}
		recs, skipped, err := read(f)
		if err != nil {
			return err
		}
		if skipped > 0 {
			log.Warn("records without a valid dni skipped", zap.Int("count", skipped))
		}
		sum, err = im.ImportPersons(ctx, recs)
		if err != nil {
			return err
		}
		sum.Skipped += skipped
	case "photos-csv":
		recs, skipped, err := importer.ReadPhotosCSV(f)
		if err != nil {
			return err
		}
		if len(skipped) > 0 {
			log.Warn("rows skipped", zap.Ints("lines", skipped))
		}
		sum, err = im.ImportPhotos(ctx, recs)
		if err != nil {
			return err
		}
		sum.Skipped += len(skipped)
		if len(sum.NotFound) > 0 {
			log.Warn("dni not registered", zap.Int64s("dni", sum.NotFound))
		}
	case "users-csv":
		recs, err := importer.ReadUsersCSV(f)
		if err != nil {
			return err
		}
		if sum, err = im.ImportUsers(ctx, recs, password); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}

	for _, e := range sum.Errors {
		log.Warn("record failed", zap.String("detail", e))
	}
	log.Info("import finished", zap.String("kind", kind), zap.Stringer("summary", sum))
	return nil
}
