package main

import (
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/bootstrap"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/config"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/server"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/util"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"
)

func main() {
	util.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		bootstrap.InitLogger(config.Default())
		logger.Fatal("Failed to load config", "err", err)
	}
	bootstrap.InitLogger(cfg)
	if err := cfg.ValidateServer(); err != nil {
		logger.Fatal("Invalid config", "err", err)
	}

	server.Init(cfg)
}
