// Package cmd wires the depot command tree.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lakefront/depot/internal/config"
	"github.com/lakefront/depot/internal/observability"
	"github.com/lakefront/depot/pkg/access"
	"github.com/lakefront/depot/pkg/dsm"
	"github.com/lakefront/depot/pkg/metastore"
	"github.com/lakefront/depot/pkg/objstore"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "depot",
	Short: "Object storage layer with presigned-link uploads and metadata indexing",
	Long: `depot manages logical files on an S3-compatible backend: it issues
presigned upload and download links, keeps a relational metadata index in
sync with the physical objects, and enforces group-based access rights.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./depot.yaml, $HOME/.config/depot/depot.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

// app bundles the assembled components a command operates on.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *objstore.Client
	meta    *metastore.Store
	manager *dsm.Manager
}

func (a *app) close() {
	if a.manager != nil {
		a.manager.Close()
	}
	if a.meta != nil {
		_ = a.meta.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// loadConfig reads configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildApp assembles the full stack: logger, object store, metadata store,
// resolver, manager.
func buildApp(ctx context.Context, consoleLogging bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var logger *zap.Logger
	if consoleLogging {
		logger, err = observability.NewCLILogger(cfg.Logging.Level)
	} else {
		logger, err = observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	}
	if err != nil {
		return nil, err
	}

	store, err := objstore.New(ctx, cfg.StoreSettings(), logger.Named("objstore"))
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	meta, err := metastore.Open(ctx, metastore.Config{Path: cfg.Metadata.Path})
	if err != nil {
		_ = store.Close()
		_ = logger.Sync()
		return nil, err
	}

	resolver := access.NewResolver(meta.DB(), logger.Named("access"))
	manager := dsm.New(store, meta, resolver, dsm.Config{
		LinkTTL:            cfg.Manager.LinkTTL,
		MultipartThreshold: cfg.Manager.MultipartThreshold,
		ReconcileAttempts:  cfg.Manager.ReconcileAttempts,
		ReconcileBaseDelay: cfg.Manager.ReconcileBaseDelay,
		DirSizeStaleness:   cfg.Manager.DirSizeStaleness,
	}, logger.Named("dsm"))

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		meta:    meta,
		manager: manager,
	}, nil
}
