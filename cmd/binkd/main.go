// Command binkd is the binkp/1.0 mailer daemon and its poll/flush tooling.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xx25/binkd-go/mailer"
	"github.com/xx25/binkd-go/pkg/config"
	"github.com/xx25/binkd-go/pkg/errkind"
)

const version = "1.0.0"

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "binkd",
		Short:         "FidoNet binkp/1.0 mailer over TCP with a BSO outbound",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "binkd.ini", "path to the INI configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(serveCmd(), pollCmd(), flushHoldsCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("binkd failed")
		os.Exit(exitCode(err))
	}
}

// exitCode maps a failure to the process exit status: 1 for configuration
// or startup problems, otherwise the error's kind.
func exitCode(err error) int {
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return 1
	}
	var ke *errkind.Error
	if errors.As(err, &ke) && int(ke.Kind) > 0 {
		return int(ke.Kind)
	}
	return 2
}

type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, &configError{err}
	}
	return cfg, nil
}

func buildMailer() (*mailer.Mailer, *prometheus.Registry, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	reg := prometheus.NewRegistry()
	return mailer.New(cfg, reg, nil), reg, cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the mailer: answer inbound calls and poll configured links",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, reg, cfg, err := buildMailer()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Mailer.MetricsListen != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: cfg.Mailer.MetricsListen, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.WithError(err).Warn("metrics endpoint failed")
					}
				}()
				defer srv.Close()
			}

			if err := m.Run(ctx); err != nil {
				return &configError{err}
			}
			return nil
		},
	}
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll <Z:N/F>",
		Short: "Make one immediate call to a configured link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, _, err := buildMailer()
			if err != nil {
				return err
			}
			return m.PollLink(cmd.Context(), args[0])
		},
	}
}

func flushHoldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush-holds",
		Short: "Call every configured link once, sending hold-flavored flows too",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, _, err := buildMailer()
			if err != nil {
				return err
			}
			return m.FlushHolds(cmd.Context())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the binkd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("binkd %s (binkp/1.0)\n", version)
		},
	}
}
