// Command swiftbeamd runs the coordination daemon: it binds the local
// transport, opens persistent storage, and serves the WebSocket UI bridge.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/swiftbeam/swiftbeam"
	"github.com/swiftbeam/swiftbeam/bridge"
	"github.com/swiftbeam/swiftbeam/storage"
	"github.com/swiftbeam/swiftbeam/transport"
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:8787", "address for the UI bridge")
		dataDir  = flag.String("data", defaultDataDir(), "directory for the settings and history database")
		instance = flag.String("name", "", "mDNS instance name (defaults to hostname)")
		logLevel = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.WithField("level", *logLevel).Fatal("Unknown log level")
	}
	logrus.SetLevel(level)

	store, err := storage.OpenSQLite(*dataDir)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"data_dir": *dataDir,
			"error":    err.Error(),
		}).Fatal("Failed to open storage")
	}

	options := swiftbeam.NewOptions()
	options.Binding = transport.NewMDNSBinding(*instance)
	options.Store = store

	app, err := swiftbeam.New(options)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Fatal("Failed to start coordination layer")
	}

	server := bridge.NewServer(app, *addr)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"signal":   sig.String(),
		}).Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "main",
				"error":    err.Error(),
			}).Error("UI bridge stopped")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithField("error", err.Error()).Warn("Bridge shutdown failed")
	}
	if err := app.Close(); err != nil {
		logrus.WithField("error", err.Error()).Warn("Close failed")
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/swiftbeam"
	}
	return "."
}
