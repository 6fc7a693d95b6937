package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"minicrm/internal/api"
	"minicrm/internal/bootstrap"
	"minicrm/internal/config"
	"minicrm/internal/kv"
	"minicrm/internal/logging"
	"minicrm/internal/notify"
	"minicrm/internal/pg"
	"minicrm/internal/records"
	"minicrm/internal/schema"
	"minicrm/internal/store"
	"minicrm/internal/validation"
)

func main() {
	cfg, err := config.Load("minicrm.json", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Errorw("server stopped", "error", err)
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) error {
	repo, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Warnw("close store", "error", err)
		}
	}()

	engine := validation.New()
	hub := notify.NewHub(cfg.SubscriberBuffer, log)

	schemas, err := schema.New(ctx, repo, engine, hub, log)
	if err != nil {
		return err
	}
	if cfg.Bootstrap != "" {
		plan, err := bootstrap.Load(cfg.Bootstrap)
		if err != nil {
			return err
		}
		sum, err := bootstrap.Apply(ctx, schemas, plan, log)
		if err != nil {
			return err
		}
		if !sum.Skipped {
			log.Infow("bootstrap applied", "enums", sum.Enums, "tables", sum.Tables,
				"link_tables", sum.LinkTables, "columns", sum.Columns)
		}
	}
	for _, is := range schemas.Lint() {
		log.Warnw("schema issue", "owner", is.Owner, "field", is.Field, "code", is.Code, "message", is.Message)
	}

	recs := records.New(repo, schemas, engine, hub, log)
	router := api.NewRouter(api.Deps{
		Schema:  schemas,
		Records: recs,
		Hub:     hub,
		Repo:    repo,
		Tokens:  cfg.APITokens,
		Log:     log,
	})
	cur := schemas.Current()
	log.Infow("minicrm starting", "driver", cfg.Driver, "port", cfg.Port,
		"tables", len(cur.Tables), "enums", len(cur.Enums), "link_tables", len(cur.LinkTables))
	return api.RunServer(ctx, ":"+cfg.Port, router, log)
}

func openStore(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (store.Repository, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := pg.Open(ctx, cfg.DBURL)
		if err != nil {
			return nil, err
		}
		repo := pg.NewRepository(db)
		if cfg.AutoMigrate {
			if err := repo.Migrate(ctx, log); err != nil {
				_ = repo.Close()
				return nil, err
			}
		}
		return repo, nil
	case config.DriverBadger:
		return kv.Open(cfg.BadgerDir, log)
	default:
		return store.NewMemory(), nil
	}
}
