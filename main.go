package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/alimasry/go-delta/config"
	"github.com/alimasry/go-delta/internal/logger"
	"github.com/alimasry/go-delta/server"
	"github.com/alimasry/go-delta/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	envFile := flag.String("env", ".env", "dotenv file loaded if present")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		logger.Default().Fatal("load config", zap.Error(err))
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if err := cfg.Log.ApplyGlobal(); err != nil {
		logger.Default().Fatal("configure logging", zap.Error(err))
	}
	log := logger.NewNamed("main")

	st, closeStore, err := openStore(context.Background(), cfg.Store)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := server.NewHub(st, reg)
	go hub.Run()

	log.Info("starting server", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, server.NewHandler(hub)); err != nil {
		log.Error("server stopped", zap.Error(err))
		closeStore()
		os.Exit(1)
	}
}

// openStore returns the in-memory store, or a cached Firestore store when a
// project is configured.
func openStore(ctx context.Context, cfg config.Store) (store.DocumentStore, func(), error) {
	if cfg.FirestoreProject == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
	if err != nil {
		return nil, nil, err
	}
	cs := store.NewCachedStore(store.NewFirestoreStore(client, cfg.Collection), cfg.FlushInterval)
	return cs, func() {
		cs.Close()
		client.Close()
	}, nil
}
