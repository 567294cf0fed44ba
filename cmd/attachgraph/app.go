package main

import (
	"fmt"
	"log/slog"
	"time"

	"attachgraph/internal/blobstore"
	"attachgraph/internal/config"
	"attachgraph/internal/content"
	"attachgraph/internal/edit"
	"attachgraph/internal/resource"
	"attachgraph/internal/store"
	"attachgraph/internal/sweep"
)

// app wires the store, blob store and attachment services for one command.
type app struct {
	cfg      *config.Config
	st       *store.Store
	blobs    *blobstore.LocalCAS
	ingester *content.Ingester
	facade   *resource.Facade
	log      *slog.Logger
}

func openApp(cfg *config.Config) (*app, error) {
	logger := slog.Default()
	st, err := store.OpenWithOptions(cfg.DBPath, store.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := blobstore.NewLocalCAS(cfg.BlobDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	ingester := content.NewIngester(blobs, content.Options{
		MaxOversizeTextBytes: cfg.Attachments.MaxOversizeTextBytes,
		Logger:               logger,
	})
	return &app{
		cfg:      cfg,
		st:       st,
		blobs:    blobs,
		ingester: ingester,
		facade:   resource.New(ingester, resource.Options{GraphWrites: cfg.Attachments.GraphWrites, Logger: logger}),
		log:      logger,
	}, nil
}

func (a *app) Close() error {
	return a.st.Close()
}

func (a *app) editor() *edit.Editor {
	return edit.NewEditor(a.st, edit.NewReconciler(a.facade, a.ingester, a.log), a.log)
}

func (a *app) sweeper() *sweep.Sweeper {
	return sweep.NewWithOptions(a.st, a.blobs, sweep.Options{
		Logger:    a.log,
		BlobGrace: time.Duration(a.cfg.Attachments.GCBlobGraceSeconds) * time.Second,
	})
}

func withApp(cfg *config.Config, fn func(*app) error) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
