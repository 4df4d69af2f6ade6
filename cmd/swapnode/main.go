package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/defistate/microswap/api"
	"github.com/defistate/microswap/chains/microchain"
	"github.com/defistate/microswap/cmd/swapnode/config"
	"github.com/defistate/microswap/protocols/pool"
	"github.com/defistate/microswap/storage/leveldb"
	"github.com/defistate/microswap/streams/jsonrpc/server"
	"github.com/defistate/microswap/streams/jsonrpc/stateops"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	level, _ := cfg.Level()
	rootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, rootLogger); err != nil {
		rootLogger.Error("Node stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	netCfg := microchain.Config{
		Logger:     logger.With("component", "network"),
		Registerer: registry,
		MaxBatch:   cfg.Network.MaxBatch,
	}
	fresh := true
	if cfg.DataDir != "" {
		store, err := leveldb.Open(filepath.Join(cfg.DataDir, "chains"))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()
		ids, err := store.ChainIDs(ctx)
		if err != nil {
			return fmt.Errorf("read store: %w", err)
		}
		fresh = len(ids) == 0
		netCfg.Store = store
	}

	net, err := microchain.NewNetwork(netCfg)
	if err != nil {
		return err
	}
	if err := registerModules(net); err != nil {
		return err
	}
	if fresh {
		if err := addGenesisChains(net, cfg.Genesis); err != nil {
			return err
		}
	}
	if err := net.Start(ctx); err != nil {
		return fmt.Errorf("start network: %w", err)
	}
	defer func() {
		cancel()
		net.Wait()
	}()
	if fresh {
		if _, err := deployGenesis(ctx, net, cfg.Genesis, logger.With("component", "genesis")); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
	} else {
		logger.Info("Network restored from store", "chains", len(net.Chains()), "applications", len(net.Applications()))
	}

	monitor, err := pool.NewMonitor(pool.MonitorConfig{
		Querier:    net,
		Targets:    poolTargets(net),
		StuckAfter: cfg.Monitor.StuckAfter,
		Interval:   cfg.Monitor.Interval,
		Registerer: registry,
		Logger:     logger.With("component", "monitor"),
	})
	if err != nil {
		return err
	}

	ops, err := stateops.NewStateOps(logger.With("component", "stateops"), registry)
	if err != nil {
		return err
	}
	streamAPI, err := server.NewAPI(server.Config{
		Source:     net,
		Differ:     ops,
		Registerer: registry,
		Logger:     logger.With("component", "stream"),
	})
	if err != nil {
		return err
	}
	rpcServer, err := server.NewServer(streamAPI)
	if err != nil {
		return err
	}
	defer rpcServer.Stop()
	streamHTTP := &http.Server{Addr: cfg.Stream.Addr, Handler: rpcServer.WebsocketHandler([]string{"*"})}

	apiServer, err := api.NewServer(api.Config{
		Addr:            cfg.API.Addr,
		Node:            net,
		Gatherer:        registry,
		Logger:          logger.With("component", "api"),
		Stuck:           monitor,
		QueryTimeout:    cfg.API.QueryTimeout,
		AllowOperations: cfg.API.AllowOperations,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := apiServer.Run(ctx); err != nil {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		logger.Info("State stream listening", "addr", cfg.Stream.Addr)
		if err := streamHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("stream: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case runErr = <-errCh:
	}
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = streamHTTP.Shutdown(shutdownCtx)
	wg.Wait()
	return runErr
}

func loadConfig() (*config.Config, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
