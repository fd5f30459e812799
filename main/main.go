// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/leveldb"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/utils/logging"

	"github.com/ava-labs/schedulervm/node"
	"github.com/ava-labs/schedulervm/service"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second

	rpcEndpoint     = "/ext/scheduler"
	metricsEndpoint = "/ext/metrics"
)

func main() {
	fs := buildFlagSet()
	v, err := buildViper(fs, os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Printf("couldn't configure flags: %s\n", err)
		os.Exit(1)
	}

	p, err := getParams(v)
	if err != nil {
		fmt.Printf("couldn't load params: %s\n", err)
		os.Exit(1)
	}

	log := newLogger(p.Log)
	err = run(p, log)
	if err != nil {
		log.Fatal("node failed",
			zap.Error(err),
		)
	}
	log.Stop()
	if err != nil {
		os.Exit(1)
	}
}

// newLogger displays logs on stdout and, if a directory is provided, writes
// them to a rotated file.
func newLogger(cfg logConfig) logging.Logger {
	cores := []logging.WrappedCore{
		logging.NewWrappedCore(cfg.DisplayLevel, os.Stdout, cfg.Format.ConsoleEncoder()),
	}
	if cfg.Directory != "" {
		rw := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Directory, appName+".log"),
			MaxSize:    cfg.MaxSize,  // megabytes
			MaxAge:     cfg.MaxAge,   // days
			MaxBackups: cfg.MaxFiles, // files
			Compress:   cfg.Compress,
		}
		cores = append(cores, logging.NewWrappedCore(cfg.LogLevel, rw, cfg.Format.FileEncoder()))
	}
	return logging.NewLogger(cfg.Format.WrapPrefix(""), cores...)
}

func newDatabase(p params, log logging.Logger, registerer prometheus.Registerer) (database.Database, error) {
	switch p.DBType {
	case leveldb.Name:
		db, err := leveldb.New(p.DBPath, nil, log, "", registerer)
		if err != nil {
			return nil, fmt.Errorf("couldn't create %s at %s: %w", leveldb.Name, p.DBPath, err)
		}
		return db, nil
	default:
		return memdb.New(), nil
	}
}

func run(p params, log logging.Logger) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return err
	}

	dbRegisterer := prometheus.WrapRegistererWithPrefix("db_", registry)
	db, err := newDatabase(p, log, dbRegisterer)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database",
				zap.Error(err),
			)
		}
	}()

	n, err := node.New(p.Node, db, log, registry)
	if err != nil {
		return err
	}
	rpcHandler, err := service.NewHandler(service.New(n, log))
	if err != nil {
		return fmt.Errorf("couldn't create %s handler: %w", service.Name, err)
	}

	router := mux.NewRouter()
	router.Handle(rpcEndpoint, rpcHandler)
	router.Handle(metricsEndpoint, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := cors.New(cors.Options{
		AllowedOrigins:   p.AllowedOrigins,
		AllowCredentials: true,
	}).Handler(gziphandler.GzipHandler(router))

	server := &http.Server{
		Addr:              net.JoinHostPort(p.HTTPHost, strconv.Itoa(int(p.HTTPPort))),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("producing blocks",
			zap.Duration("interval", p.Node.BlockInterval),
			zap.Uint64("height", n.Height()),
		)
		return n.Run(ctx)
	})
	g.Go(func() error {
		log.Info("starting API server",
			zap.String("address", server.Addr),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
