package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/syedabdeen/minutevault/internal/config"
	"github.com/syedabdeen/minutevault/internal/gateway"
	"github.com/syedabdeen/minutevault/internal/logging"
	"github.com/syedabdeen/minutevault/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error(logging.CategoryApp, "failed to load configuration: %v", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.LogLevel); err != nil {
		os.Exit(1)
	}
	defer logging.Shutdown()

	logging.Info(logging.CategoryApp, "starting minutevault-gateway version=%s", version.Version)

	gw := gateway.New(cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logging.Info(logging.CategoryApp, "received signal %v, shutting down", sig)
		if err := gw.Shutdown(); err != nil {
			logging.Warning(logging.CategoryApp, "gateway shutdown: %v", err)
		}
	case err := <-errCh:
		if err != nil {
			logging.Error(logging.CategoryApp, "gateway failed: %v", err)
			os.Exit(1)
		}
	}

	logging.Info(logging.CategoryApp, "gateway shutdown complete")
}
