package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rzpsarthak13/featurestore/internal/logging"
	"github.com/rzpsarthak13/featurestore/pkg/featurestore"
)

type options struct {
	configPath      string
	addr            string
	shutdownTimeout time.Duration
}

// defineFlags registers the command line flags on flags.
func (o *options) defineFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&o.configPath, "config", "c", "", "path to a YAML or JSON config file")
	flags.StringVar(&o.addr, "addr", ":8080", "address the HTTP API listens on")
	flags.DurationVar(&o.shutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for in-flight requests on shutdown")
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("feature-server", pflag.ExitOnError)
	opts.defineFlags(flags)
	_ = flags.Parse(os.Args[1:])

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "feature-server: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	config, err := featurestore.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Level:   config.Logging.Level,
		Format:  config.Logging.Format,
		NoColor: config.Logging.NoColor,
	}, nil)
	if err != nil {
		return err
	}

	client, err := featurestore.NewClient(config, featurestore.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create feature store client: %w", err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}
	defer func() {
		if err := client.Stop(); err != nil {
			logger.Error("run() - stopping client", "error", err)
		}
	}()

	servers := []*http.Server{{
		Addr:              opts.addr,
		Handler:           newRouter(newHandler(client, logging.Component(logger, "http"))),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", client.MetricsHandler())
		servers = append(servers, &http.Server{
			Addr:              config.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("run() - listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
		}(srv)
	}

	select {
	case <-ctx.Done():
		logger.Info("run() - shutting down")
	case err = <-errCh:
	}
	shutdown(servers, opts.shutdownTimeout, logger)
	return err
}

func shutdown(servers []*http.Server, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("shutdown() - server did not stop cleanly", "addr", srv.Addr, "error", err)
		}
	}
}
