package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/circuitdesk/server/internal/auth"
	"github.com/circuitdesk/server/internal/build"
	"github.com/circuitdesk/server/internal/config"
	"github.com/circuitdesk/server/internal/database"
	"github.com/circuitdesk/server/internal/logger"
	"github.com/circuitdesk/server/internal/parts"
	"github.com/circuitdesk/server/internal/serial"
	"github.com/circuitdesk/server/internal/server"
	"github.com/circuitdesk/server/internal/toolchain"
	"github.com/circuitdesk/server/internal/workspace"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.New("circuitdesk")
	defer log.Flush()

	cfg := config.Load()
	if err := log.SetLevelName(cfg.LogLevel); err != nil {
		log.Error(err, "ignoring LOG_LEVEL")
	}

	fs := pflag.NewFlagSet("circuitdesk", pflag.ExitOnError)
	fs.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	fs.StringVar(&cfg.WorkspaceDir, "workspace", cfg.WorkspaceDir, "Directory backing /tmp/arduino_workspace")
	fs.StringVar(&cfg.PartsDir, "parts", cfg.PartsDir, "Fritzing parts directory")
	issueFor := fs.String("issue-token", "", "Print an access token for the given subject and exit")
	log.AddLevelFlag(fs)
	_ = fs.Parse(os.Args[1:])

	if *issueFor != "" {
		token, err := auth.IssueToken(cfg.AuthSecret, *issueFor, auth.DefaultTokenTTL)
		if err != nil {
			log.Error(err, "could not issue token")
			return 1
		}
		fmt.Println(token)
		return 0
	}

	// Toolchain
	cli := toolchain.New(toolchain.Options{
		Root:    cfg.RootDir,
		CLIPath: cfg.CLIPath,
		TempDir: cfg.TempDir,
		Timeout: cfg.ToolchainTimeout,
	}, log.Logger)
	if _, err := cli.Locate(); err != nil {
		log.Info("toolchain routes will fail until arduino-cli is installed", "reason", err.Error())
	}

	// Build history (only if a database is configured)
	var recorder toolchain.Recorder
	var builds *build.Handler
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL, log.Logger)
		if err != nil {
			log.Error(err, "database unavailable")
			return 1
		}
		defer func() {
			if err := database.Close(db); err != nil {
				log.Error(err, "could not close database")
			}
		}()
		if err := database.AutoMigrate(db, &build.Build{}); err != nil {
			log.Error(err, "database migration failed")
			return 1
		}
		repo := build.NewRepository(db)
		recorder = repo
		builds = build.NewHandler(repo)
	}

	registry := serial.NewRegistry()
	bridge := serial.NewBridge(cli, registry, serial.Options{
		StartupCheck: cfg.MonitorStartupCheck,
		StopGrace:    cfg.MonitorStopGrace,
		WriteTimeout: cfg.MonitorWriteTimeout,
	}, log.Logger)

	app := server.New(server.Options{
		AllowOrigins: cfg.AllowOrigins,
		BodyLimit:    cfg.BodyLimit,
		AuthSecret:   cfg.AuthSecret,
	}, server.Handlers{
		Toolchain: toolchain.NewHandler(cli, recorder, log.Logger),
		Workspace: workspace.NewHandler(workspace.NewStore(cfg.WorkspaceDir, log.Logger)),
		Parts:     parts.NewHandler(parts.NewCatalog(cfg.PartsDir, log.Logger)),
		Serial:    serial.NewHandler(bridge, cfg.AuthSecret),
		Builds:    builds,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stop
		log.Info("shutting down", "signal", sig.String(), "sessions", registry.Len())
		registry.Broadcast("Server is shutting down")
		registry.CloseAll()
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Error(err, "shutdown did not complete")
		}
	}()

	log.Info("server starting", "port", cfg.Port, "workspace", cfg.WorkspaceDir, "parts", cfg.PartsDir,
		"auth", cfg.AuthSecret != "", "buildHistory", builds != nil)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Error(err, "server stopped")
		return 1
	}
	return 0
}
