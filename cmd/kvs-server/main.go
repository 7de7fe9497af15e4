// Command kvs-server is the network front door over either engine,
// grounded on the original program's src/bin/kvs-server.rs: parses
// --addr/--engine, refuses to start if the sibling engine's data
// directory already exists, opens the chosen engine, and serves until
// SIGINT/SIGTERM.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	natomic "github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/aurorakv/kvs/bitcask"
	"github.com/aurorakv/kvs/engine"
	"github.com/aurorakv/kvs/internal/config"
	"github.com/aurorakv/kvs/internal/server"
	"github.com/aurorakv/kvs/sledstore"
)

func main() {
	var (
		addr       = flag.String("addr", "", "listen address, e.g. 127.0.0.1:13131")
		engineName = flag.String("engine", "", "storage engine: kvs or sled")
		configPath = flag.String("config", "", "optional YAML config file")
		dataDir    = flag.String("data-dir", "", "root directory holding the kvs/ and sled/ engine subdirectories")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal("load config", zap.Error(err))
		}
	}

	if *addr != "" {
		cfg.Addr = *addr
	}
	if *engineName != "" {
		cfg.Engine = *engineName
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	cfg.Engine = strings.ToLower(cfg.Engine)
	if cfg.Engine != "kvs" && cfg.Engine != "sled" {
		log.Fatal("unknown engine, want kvs or sled", zap.String("engine", cfg.Engine))
	}

	kvsPath := filepath.Join(cfg.DataDir, "kvs")
	sledPath := filepath.Join(cfg.DataDir, "sled")

	if _, err := os.Stat(sledPath); err == nil && cfg.Engine == "kvs" {
		log.Fatal("engine conflict: sled data directory already exists", zap.String("path", sledPath))
	}
	if _, err := os.Stat(kvsPath); err == nil && cfg.Engine == "sled" {
		log.Fatal("engine conflict: kvs data directory already exists", zap.String("path", kvsPath))
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal("create data dir", zap.Error(err))
	}
	if err := natomic.WriteFile(filepath.Join(cfg.DataDir, "ENGINE"), strings.NewReader(cfg.Engine+"\n")); err != nil {
		log.Fatal("write engine marker", zap.Error(err))
	}

	var kv engine.Engine
	var diskSize func() (int64, error)

	switch cfg.Engine {
	case "kvs":
		db, err := bitcask.Open(kvsPath)
		if err != nil {
			log.Fatal("open bitcask engine", zap.Error(err))
		}
		defer db.Close()
		kv = db
		diskSize = db.DiskSize

		go func() {
			for err := range db.MergeErrors() {
				log.Error("merge failed", zap.Error(err))
			}
		}()

	case "sled":
		if err := os.MkdirAll(sledPath, 0o755); err != nil {
			log.Fatal("create sled data dir", zap.Error(err))
		}
		st, err := sledstore.Open(filepath.Join(sledPath, "kvs.db"))
		if err != nil {
			log.Fatal("open sled engine", zap.Error(err))
		}
		defer st.Close()
		kv = st
	}

	if diskSize != nil {
		if n, err := diskSize(); err == nil {
			log.Info("engine opened", zap.String("engine", cfg.Engine), zap.Int64("disk_bytes", n))
		}
	} else {
		log.Info("engine opened", zap.String("engine", cfg.Engine))
	}

	ln, err := newListener(cfg.Addr)
	if err != nil {
		log.Fatal("listen", zap.Error(err))
	}

	srv := server.New(ln, kv, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve() }()

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serveErrCh:
		if err != nil {
			log.Error("serve error", zap.Error(err))
		}
	}

	_ = ln.Close()

	if flusher, ok := kv.(interface{ Flush() error }); ok {
		if err := flusher.Flush(); err != nil {
			log.Warn("flush on shutdown", zap.Error(err))
		}
	}
}
