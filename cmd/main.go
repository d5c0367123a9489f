package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/tejusbharadwaj/babelgas/internal/api"
	"github.com/tejusbharadwaj/babelgas/internal/config"
	"github.com/tejusbharadwaj/babelgas/internal/entry"
	grpcserver "github.com/tejusbharadwaj/babelgas/internal/grpc"
	"github.com/tejusbharadwaj/babelgas/internal/metrics"
	"github.com/tejusbharadwaj/babelgas/internal/scheduler"
	"github.com/tejusbharadwaj/babelgas/internal/server"
)

// Command babelgas polls Babel Group gas accounts and serves their prepaid
// balance as sensor states.
//
// Usage:
//
//	babelgas [flags]
//
// The flags are:
//
//	-config string
//	      path to config file, yaml or toml (default "config.yaml")
//	-env-file string
//	      dotenv file loaded before the config is read (default ".env")
func main() {
	flags := parseFlags()

	if err := config.LoadDotEnv(flags.EnvFile); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}

	appConfig, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(appConfig.Logging)

	if n := appConfig.LegacyPlatforms(); n > 0 {
		logger.WithField("count", n).Warn(
			"Configuration of the babel_gas platform in YAML is deprecated; move the account under accounts")
	}

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatalf("Failed to register metrics: %v", err)
	}

	client := api.NewClient(&http.Client{},
		api.WithEndpoint(appConfig.Polling.Endpoint),
		api.WithTimeout(appConfig.Polling.RequestTimeout),
	)

	hub := server.NewHub(logger)
	health := grpcserver.NewHealthChecker()
	manager := entry.NewManager(client, logger, entry.Options{
		MinInterval: appConfig.Polling.MinInterval,
		Recorder:    m,
	}, hub, health)

	// Create a context that will be canceled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, acct := range appConfig.Accounts {
		if _, err := manager.Setup(ctx, acct); err != nil {
			logger.WithError(err).WithField("member_id", acct.MemberID).Error("Failed to set up account")
		}
	}

	sched := scheduler.NewScheduler(ctx, manager, logger,
		appConfig.Polling.ScanInterval, appConfig.Polling.TickTimeout())

	httpServer, err := server.SetupServer(server.ServerConfig{
		Addr:           appConfig.Server.Address(),
		CacheSize:      appConfig.Server.CacheSize,
		RateLimit:      appConfig.Server.RateLimit,
		RateLimitBurst: appConfig.Server.RateLimitBurst,
		AllowedOrigins: appConfig.Server.AllowedOrigins,
	}, manager, hub, m, prometheus.DefaultGatherer, logger)
	if err != nil {
		logger.Fatalf("Failed to setup server: %v", err)
	}

	grpcSrv := grpcserver.SetupServer(health, logger)
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.GRPCPort))
	if err != nil {
		logger.Fatalf("Failed to listen: %v", err)
	}

	// Start background services
	errChan := make(chan error, 3)

	if err := sched.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	go func() {
		logger.WithField("port", appConfig.Server.GRPCPort).Info("Starting gRPC health server")
		if err := grpcSrv.Serve(lis); err != nil {
			errChan <- fmt.Errorf("grpc server error: %w", err)
		}
	}()

	httpDone := make(chan struct{})
	go func() {
		defer close(httpDone)
		if err := httpServer.Run(ctx); err != nil {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Printf("Received signal %v, initiating shutdown", sig)
	case err := <-errChan:
		logger.WithError(err).Error("Service error, initiating shutdown")
	}

	shutdown(cancel, httpDone, sched, manager, health, grpcSrv, logger)
}

type Flags struct {
	ConfigPath string
	EnvFile    string
}

func parseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "config.yaml", "Path to the config file (yaml or toml)")
	flag.StringVar(&f.EnvFile, "env-file", ".env", "Dotenv file loaded before the config")

	flag.Parse()

	return f
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithField("level", cfg.Level).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// shutdown stops polling before the servers so no update publishes into a
// closed hub.
func shutdown(
	cancel context.CancelFunc,
	httpDone <-chan struct{},
	sched *scheduler.Scheduler,
	manager *entry.Manager,
	health *grpcserver.HealthChecker,
	grpcSrv *grpc.Server,
	logger *logrus.Logger,
) {
	logger.Println("Stopping scheduler...")
	sched.Stop()
	manager.Close()

	// Cancelling the root context also shuts down the HTTP server and the hub.
	cancel()
	<-httpDone

	health.Shutdown()
	logger.Println("Gracefully stopping gRPC server...")
	grpcSrv.GracefulStop()
	logger.Println("Server stopped")
}
