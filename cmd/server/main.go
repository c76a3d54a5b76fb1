package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/riskscore-api/internal/config"
	"github.com/Brownie44l1/riskscore-api/internal/inference"
	"github.com/Brownie44l1/riskscore-api/internal/logging"
	"github.com/Brownie44l1/riskscore-api/internal/model"
	"github.com/Brownie44l1/riskscore-api/internal/risk"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "riskscore",
	Short:         "Credit-risk scoring service",
	Long:          "Serve a binary credit-risk classifier over HTTP and gRPC.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")
	rootCmd.AddCommand(serveCmd, predictCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app is what every command needs once configuration and the model are loaded.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	model  model.Handle
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	logger.Info("loading model", zap.String("path", cfg.Model.Path))
	h, err := model.Load(cfg.Model.Path, model.Options{
		MetadataPath: cfg.Model.MetadataPath,
		LibraryPath:  cfg.Model.LibraryPath,
		Sessions:     cfg.Model.Sessions,
	})
	if err != nil {
		logger.Sync()
		return nil, err
	}
	info := h.Info()
	logger.Info("model loaded",
		zap.String("format", info.Format),
		zap.Int("features", info.FeatureCount),
		zap.String("artifact", info.Artifact),
	)
	return &app{cfg: cfg, logger: logger, model: h}, nil
}

func (a *app) close() {
	if err := a.model.Close(); err != nil {
		a.logger.Warn("close model", zap.Error(err))
	}
	a.logger.Sync()
}

func (a *app) inferenceHandler(opts ...inference.Option) (*inference.Handler, error) {
	if len(a.cfg.Risk.Bands) > 0 {
		bands, err := risk.NewClassifier(a.cfg.Risk.Bands)
		if err != nil {
			return nil, fmt.Errorf("risk bands: %w", err)
		}
		opts = append(opts, inference.WithClassifier(bands))
	}
	return inference.NewHandler(a.model, opts...), nil
}
