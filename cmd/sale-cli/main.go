package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ethereum/go-ethereum/common"
	"github.com/you/met-sale/internal/app"
	"github.com/you/met-sale/internal/chain"
	"github.com/you/met-sale/internal/config"
	"github.com/you/met-sale/internal/pricefeed"
	"github.com/you/met-sale/internal/redisfeed"
	"github.com/you/met-sale/internal/risk"
	"github.com/you/met-sale/internal/sale"
	"github.com/you/met-sale/internal/tui"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config")
	logFile := flag.String("log", "sale-cli.log", "log file (the terminal is taken by the UI)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Log.File == "" {
		cfg.Log.File = *logFile
	}

	logger, err := app.NewLogger(cfg.Log.Level, cfg.Log.File, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	limits, err := risk.NewEngine(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var sink sale.Sink
	if pub := redisfeed.NewPublisher(cfg); pub != nil {
		defer pub.Close()
		sink = pub
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctl := sale.NewController(cfg, pricefeed.New(cfg, logger), limits, sink, logger)
	connect := func(ctx context.Context) (chain.Contract, common.Address, error) {
		w, err := chain.Dial(ctx, cfg, logger)
		if err != nil {
			return nil, common.Address{}, err
		}
		if !w.CanSign() {
			return nil, common.Address{}, chain.ErrNoSigner
		}
		return w, w.Address(), nil
	}

	p := tea.NewProgram(tui.New(ctx, cfg, ctl, connect), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		logger.Error("ui stopped", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
