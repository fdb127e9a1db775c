package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/charity-atlas/registry-cli/internal/classify"
	"github.com/charity-atlas/registry-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "registry.db"
		}
		return store.NewSQLite(ctx, path)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("database URL is required (REGISTRY_STORE_DATABASE_URL)")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initClassifier() (*classify.Classifier, error) {
	if cfg.Classify.KeywordsPath == "" {
		return classify.New(classify.DefaultTables()), nil
	}
	tables, err := classify.LoadTables(cfg.Classify.KeywordsPath)
	if err != nil {
		return nil, eris.Wrap(err, "load keyword tables")
	}
	return classify.New(tables), nil
}
