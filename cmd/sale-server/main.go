package main

import (
	"context"
	"flag"
	"os"

	"github.com/you/met-sale/internal/app"
	"github.com/you/met-sale/internal/config"
	"go.uber.org/zap"
)

func parseFlags() (cfgPath, logLevel string) {
	flag.StringVar(&cfgPath, "config", "./config.yaml", "путь к конфигу")
	flag.StringVar(&logLevel, "log-level", "", "override log.level (debug|info|warn|error)")
	flag.Parse()
	return cfgPath, logLevel
}

func main() {
	cfgPath, logLevel := parseFlags()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		// логгера ещё нет
		panic(err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := app.NewLogger(cfg.Log.Level, cfg.Log.File, os.Stdout)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("sale server starting",
		zap.String("contract", cfg.Contract.Address),
		zap.String("chain", cfg.Chain.ChainName),
		zap.Int("port", cfg.Server.Port),
	)
	if err := app.New(cfg, logger).Run(context.Background()); err != nil {
		logger.Fatal("sale server failed", zap.Error(err))
	}
}
