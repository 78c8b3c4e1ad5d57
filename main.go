package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dpotapov/slogpfx"
	"github.com/lmittmann/tint"
	"gitlab.com/greyxor/slogor"
	"log/slog"

	"github.com/btnmasher/fairshare/internal/config"
	"github.com/btnmasher/fairshare/internal/fetcher"
	"github.com/btnmasher/fairshare/internal/player"
	"github.com/btnmasher/fairshare/internal/scheduler"
	"github.com/btnmasher/fairshare/internal/service"
	"github.com/btnmasher/fairshare/internal/store"
	"github.com/btnmasher/fairshare/internal/ticker"
)

var ReleaseType = "dev"
var Version = "v0.0.0"
var CommitHash = "unknown"
var Branch = "unknown"
var BuildDate = "unknown"

const defaultLogLevel = slog.LevelInfo

var levelMap = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func init() {
	os.Setenv("env", ReleaseType)
	os.Setenv("githash", CommitHash)
}

func getLogLevel(raw string) slog.Level {
	if l, ok := levelMap[strings.ToLower(raw)]; ok {
		return l
	}
	return defaultLogLevel
}

func main() {
	mainCtx, cancelMain := context.WithCancel(context.Background())
	defer cancelMain()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(getLogLevel(cfg.LogLevel))

	prefixed := slogpfx.NewHandler(
		slogor.NewHandler(os.Stderr, slogor.SetLevel(logLevel), slogor.SetTimeFormat(time.Stamp)),
		&slogpfx.HandlerOptions{
			PrefixKeys: []string{"service"},
		},
	)
	logger := slog.New(prefixed)

	st, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		logger.Error("Could not open store", tint.Err(err))
		os.Exit(1)
	}
	defer st.Close()

	pl := player.NewLogger(logger)

	var ytFetcher fetcher.RemoteFetcher = fetcher.NewYouTube(nil, cfg.YouTubeAPIKey)

	sched, err := scheduler.New(mainCtx, cfg.PlayerName, st, pl, ytFetcher, cfg.DontRepeatFor, cfg.MaxDontRepeatFor, logger)
	if err != nil {
		logger.Error("Could not initialize scheduler", tint.Err(err))
		os.Exit(1)
	}

	manager := service.NewManager(logger)
	manager.Register(sched)

	tk := ticker.New(sched, pl, cfg.TickPeriod, logger)
	go tk.Run(mainCtx)

	r := service.NewRouter(logger, manager)

	logger = logger.With("service", "main")

	killSig := make(chan os.Signal, 1)
	signal.Notify(killSig, os.Interrupt, syscall.SIGTERM)

	listenAddr := net.JoinHostPort(cfg.ListenAddr, cfg.Port)
	srv := &http.Server{
		Addr:    listenAddr,
		Handler: r,
	}

	go func() {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("Server shutdown complete")
		} else if err != nil {
			logger.Error("Server shutdown with error", tint.Err(err))
			os.Exit(1)
		}
	}()

	logger.Info(fmt.Sprintf("Listening on %s - env: %s", listenAddr, ReleaseType))

	<-killSig

	logger.Info("Shutting down server")
	cancelMain()
	tk.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server shutdown with error", tint.Err(err))
	}
}
