package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jabolina/go-rtps/pkg/rtps"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	verbose     bool
	metricsAddr string
	cfg         *types.Configuration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rtpsctl",
		Short: "Publish and subscribe samples over RTPS",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			var err error
			cfg, err = rtps.LoadConfiguration(cfgFile)
			if err != nil {
				return err
			}
			if verbose {
				cfg.Logger.ToggleDebug(true)
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to expose prometheus metrics, disabled when empty")

	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(subscribeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Creates the participant and the metrics endpoint. The returned
// function releases both.
func start() (rtps.Participant, func(), error) {
	registry := prometheus.NewRegistry()
	cfg.Registerer = registry

	participant, err := rtps.NewParticipant(cfg)
	if err != nil {
		return nil, nil, err
	}

	var server *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cfg.Logger.Errorf("metrics server failed. %v", err)
			}
		}()
		cfg.Logger.Infof("serving metrics at %s/metrics", metricsAddr)
	}

	release := func() {
		if server != nil {
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdown)
		}
		if err := participant.Close(); err != nil {
			cfg.Logger.Errorf("failed closing participant. %v", err)
		}
	}
	return participant, release, nil
}

// Parses the remote entity given by the flags.
func remoteGuid(prefix string, key uint32, kind types.EntityKind) (types.Guid, error) {
	p, err := types.ParseGuidPrefix(prefix)
	if err != nil {
		return types.Guid{}, err
	}
	return types.NewGuid(p, types.NewEntityId(key, kind)), nil
}

func parseLocators(values []string) ([]types.Locator, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("at least one peer locator is required")
	}
	locators := make([]types.Locator, 0, len(values))
	for _, value := range values {
		l, err := types.ParseLocator(value)
		if err != nil {
			return nil, err
		}
		locators = append(locators, l)
	}
	return locators, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
