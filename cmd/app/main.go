package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/ordersys/pipeline/internal/app"
	"github.com/ordersys/pipeline/internal/config"
)

func main() {
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.LogDev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}

	err = app.New(cfg, logger).Run(context.Background())
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
