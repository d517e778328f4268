package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"projdocs-desktop/internal/config"
	"projdocs-desktop/internal/deeplink"
	"projdocs-desktop/internal/instance"
	"projdocs-desktop/internal/logging"
)

const appName = "ProjDocs"

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	flags := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	configPath := flags.String("config", "", "path to config.toml (default <data-dir>/config.toml)")
	headless := flags.Bool("headless", false, "run the gateway without a tray icon")
	showVersion := flags.Bool("version", false, "print version and exit")
	registerOnly := flags.Bool("register-only", false, "register the URL scheme handler and exit")
	// Deep links arrive as bare arguments; browsers may append flags we do not know.
	flags.ParseErrorsWhitelist.UnknownFlags = true
	_ = flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("%s %s (%s) %s\n", appName, version, commit, runtime.Version())
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Dir: cfg.LogDir()})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	gin.SetMode(cfg.GinMode)

	exe, err := os.Executable()
	if err != nil {
		logger.Fatal("resolve executable", zap.Error(err))
	}
	if *registerOnly {
		if err := deeplink.Register(appName, cfg.Scheme, exe, logger); err != nil {
			logger.Fatal("register scheme", zap.Error(err))
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := instance.Listen(cfg.SocketPath(), logger)
	if errors.Is(err, instance.ErrAlreadyRunning) {
		wd, _ := os.Getwd()
		if err := instance.Forward(ctx, cfg.SocketPath(), instance.Message{Args: os.Args, WorkingDir: wd}); err != nil {
			logger.Fatal("forward to running instance", zap.Error(err))
		}
		logger.Info("handed off to running instance")
		return
	}
	if err != nil {
		logger.Fatal("claim instance", zap.Error(err))
	}

	if err := deeplink.Register(appName, cfg.Scheme, exe, logger); err != nil {
		logger.Warn("register scheme", zap.Error(err))
	}

	app, err := newApp(cfg, logger, listener)
	if err != nil {
		listener.Close()
		logger.Fatal("start", zap.Error(err))
	}
	if err := app.run(ctx, *headless, os.Args[1:]); err != nil {
		logger.Error("exited", zap.Error(err))
		os.Exit(1)
	}
}
