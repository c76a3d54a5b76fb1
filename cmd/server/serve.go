package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/riskscore-api/internal/grpcapi"
	"github.com/Brownie44l1/riskscore-api/internal/handlers"
	"github.com/Brownie44l1/riskscore-api/internal/inference"
	"github.com/Brownie44l1/riskscore-api/internal/metrics"
	"github.com/Brownie44l1/riskscore-api/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long:  "Load the model and serve /predict, /health and /ready until interrupted.",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	m.ModelFeatures.Set(float64(a.model.ExpectedFeatureCount()))

	inf, err := a.inferenceHandler(inference.WithObserver(m))
	if err != nil {
		return err
	}

	h := handlers.NewHandler(inf, a.model.Info(), a.cfg.Server.MaxBodyBytes, a.logger)
	srv := server.New(a.cfg.Server, h, grpcapi.NewScorer(inf, a.logger), reg, a.logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info("server starting",
		zap.String("addr", a.cfg.Server.Addr),
		zap.String("grpc_addr", a.cfg.Server.GRPCAddr),
		zap.String("metrics_addr", a.cfg.Server.MetricsAddr),
	)
	return srv.Run(ctx)
}
