package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/eegbench/internal/codec"
	"github.com/danielpatrickdp/eegbench/internal/config"
	"github.com/danielpatrickdp/eegbench/internal/pipeline"
)

// #region command

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured in-process pipelines as a remote estimator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging, os.Stderr)
			if addr == "" {
				addr = cfg.Estimator.Addr
			}

			factories := localFactories(cfg)
			if len(factories) == 0 {
				return fmt.Errorf("no in-process pipelines to serve")
			}
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			srv := grpc.NewServer()
			codec.RegisterEstimatorServer(srv, codec.NewLocalServer(factories, logger))

			go func() {
				<-cmd.Context().Done()
				srv.GracefulStop()
			}()
			logger.Info("estimator server listening", "addr", lis.Addr().String(), "pipelines", len(factories))
			return srv.Serve(lis)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to estimator.addr)")
	return cmd
}

// #endregion command

// #region factories

// localFactories builds a fresh estimator per Fit from each non-remote pipeline.
func localFactories(cfg *config.Config) map[string]codec.Factory {
	out := map[string]codec.Factory{}
	for _, pc := range cfg.Pipelines {
		if pc.Remote != "" {
			continue
		}
		single := *cfg
		single.Pipelines = []config.PipelineConfig{pc}
		out[pc.Name] = func() (pipeline.Estimator, error) {
			pipes, err := single.BuildPipelines(nil)
			if err != nil {
				return nil, err
			}
			return pipes[pc.Name], nil
		}
	}
	return out
}

// #endregion factories
