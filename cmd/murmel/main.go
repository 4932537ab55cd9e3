package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"github.com/murmellabs/murmel/internal/config"
	"github.com/murmellabs/murmel/internal/runtime"
	"github.com/murmellabs/murmel/internal/ui"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "murmel.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Telemetry.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := runtime.New(cfg, logger)
	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fyneApp := app.NewWithID("io.murmellabs.murmel")
	win := ui.New(fyneApp, rt.Capture(), cfg.UI)
	if err := ui.Bind(win, rt.Bus()); err != nil {
		logger.Error("failed to bind ui", slog.String("error", err.Error()))
		shutdown(rt)
		os.Exit(1)
	}

	if cfg.UI.RestoreLast {
		if rec, ok, err := rt.History().LastTranscript(ctx); err != nil {
			logger.Warn("failed to restore last transcript", slog.String("error", err.Error()))
		} else if ok {
			win.SetInitialTranscript(rec.Text)
		}
	}

	// close the window when the process is signalled
	go func() {
		<-ctx.Done()
		fyne.Do(fyneApp.Quit)
	}()

	win.ShowAndRun()

	shutdown(rt)
	logger.Info("shutdown complete")
}

func shutdown(rt *runtime.Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt.Shutdown(ctx)
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
