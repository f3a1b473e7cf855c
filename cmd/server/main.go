package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"wallandshadow.io/internal/config"
	persistlog "wallandshadow.io/internal/persistence/log"
	"wallandshadow.io/internal/persistence/r2s3"
	"wallandshadow.io/internal/persistence/store"
	"wallandshadow.io/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/server.yaml", "server config (optional; WS_* env vars override it)")
		envFile    = flag.String("env", ".env", "dotenv file loaded before the config (optional)")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logrus.Fatalf("load %s: %v", *envFile, err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger, logFile, err := cfg.Log.NewLogger(os.Stdout)
	if err != nil {
		logrus.Fatalf("logger: %v", err)
	}
	defer logFile.Close()

	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	st, err := store.OpenSQLite(filepath.Join(cfg.Server.DataDir, "maps.sqlite"))
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()
	st.SetClock(store.MonotonicClock(time.Now))

	var backup *r2s3.Mirror
	if cfg.Backup.Enabled() {
		client, err := r2s3.New(cfg.Backup.Endpoint, cfg.Backup.Bucket, cfg.Backup.AccessKeyID, cfg.Backup.SecretAccessKey)
		if err != nil {
			logger.Fatalf("backup: %v", err)
		}
		backup = r2s3.NewMirror(client, r2s3.MirrorConfig{
			DataDir: cfg.Server.DataDir,
			Prefix:  cfg.Backup.Prefix,
			Workers: cfg.Backup.Workers,
		}, logger)
		// Deferred first so it runs last, after the journal has flushed
		// its final files into the queue.
		defer backup.Close()
	}

	var journal *persistlog.Journal
	if cfg.Server.Journal {
		journal = persistlog.NewJournal(filepath.Join(cfg.Server.DataDir, "journal"))
		if backup != nil {
			journal.OnFileClosed(backup.Enqueue)
		}
		defer journal.Close()
	}

	a, err := newApp(cfg, st, journal, backup, logger)
	if err != nil {
		logger.Fatalf("app: %v", err)
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()
	go a.consolidateLoop(ctx, cfg.Server.ConsolidateEvery)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.WithFields(logrus.Fields{"addr": cfg.Server.Addr, "data_dir": cfg.Server.DataDir}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func feedConfig(cfg config.FeedConfig) ws.Config {
	return ws.Config{
		MaxQueue:     cfg.MaxQueue,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MapCacheTTL:  cfg.MapCacheTTL,
	}
}
