package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"offramp-backend/internal/app"
	"offramp-backend/internal/config"
	"offramp-backend/internal/db"
	"offramp-backend/internal/router"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	if os.Getenv("LOG_LEVEL") == "debug" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := config.LoadConfig(*configPath); err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := db.InitDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}

	container, err := app.NewServiceContainer(config.AppConfig)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build services")
	}
	defer container.Close()

	if err := container.SweepScheduler.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start sweep scheduler")
	}

	r := router.Setup(config.AppConfig, container.HealthHandler, container.OfframpHandler, container.SettingsHandler)

	addr := fmt.Sprintf("%s:%d", config.AppConfig.Server.Host, config.AppConfig.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("addr", addr).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Forced shutdown")
	}
}
