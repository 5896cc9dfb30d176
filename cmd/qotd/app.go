package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/qotd/internal/config"
	"github.com/zulandar/qotd/internal/ledger"
	"github.com/zulandar/qotd/internal/platform"
	"github.com/zulandar/qotd/internal/platform/discord"
	"github.com/zulandar/qotd/internal/platform/slack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

const defaultConfigPath = "qotd.yaml"

// loadConfig reads the config file. When --config was left at its default
// and no such file exists, configuration comes from the environment alone.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	path := flags.configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the operator log on stderr: human-readable on a
// terminal, JSON otherwise.
func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if term.IsTerminal(int(os.Stderr.Fd())) {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.DisableStacktrace = true
	}
	zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

// clientFactory builds the platform client. Tests override it.
var clientFactory = func(cfg *config.Config, log *zap.Logger) (platform.Client, error) {
	switch cfg.Platform {
	case "slack":
		return slack.New(slack.ClientOpts{
			BotToken: cfg.Slack.BotToken,
			Timeout:  cfg.RequestTimeout,
			Logger:   log,
		})
	case "discord":
		return discord.New(discord.ClientOpts{
			BotToken: cfg.Discord.BotToken,
			Timeout:  cfg.RequestTimeout,
			Logger:   log,
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

// env bundles what every phase command needs.
type env struct {
	cfg    *config.Config
	log    *zap.Logger
	client platform.Client
	store  ledger.Store
}

// Close closes the ledger store and flushes the logger. Platform clients
// hold no resources beyond pooled HTTP connections.
func (e *env) Close() error {
	err := e.store.Close()
	_ = e.log.Sync()
	if err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	return nil
}

// closeInto closes c and reports its error through err unless err is
// already set.
func closeInto(err *error, c io.Closer) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

// setup loads config, logger, platform client, and ledger store.
func setup(cmd *cobra.Command, flags *globalFlags) (*env, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(flags.verbose)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	client, err := clientFactory(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Platform, err)
	}
	store, err := ledger.Open(cfg.Ledger)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &env{cfg: cfg, log: log, client: client, store: store}, nil
}
