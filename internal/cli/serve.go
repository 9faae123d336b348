package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ankittk/researcher/internal/config"
	"github.com/ankittk/researcher/internal/daemon"
)

func newServeCmd() *cobra.Command {
	var (
		addr       string
		dev        bool
		stub       bool
		pprofAddr  string
		dbDriver   string
		dbURL      string
		apiKey     string
		enableOtel bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the researcher HTTP server in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch dbDriver {
			case "sqlite", "postgres", "none":
			default:
				return fmt.Errorf("--db-driver must be sqlite, postgres or none (got %q)", dbDriver)
			}
			home := config.MustHomeFrom(cmd.Context())
			settings, err := config.LoadSettings(home)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting researcher on http://%s\n", addr)
			return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
				Home:       home,
				Addr:       addr,
				Dev:        dev,
				PprofAddr:  pprofAddr,
				Stub:       stub,
				DBDriver:   dbDriver,
				DBURL:      dbURL,
				APIKey:     apiKey,
				EnableOtel: enableOtel,
				Settings:   settings,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", daemon.DefaultAddr, "Listen address")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().BoolVar(&stub, "stub", false, "Use deterministic offline stages instead of the LLM and web search")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Archive driver: sqlite, postgres or none")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres connection string (or set DATABASE_URL)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Require this API key (or set RESEARCHER_API_KEY)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter, HTTP and SSE instrumentation)")

	return cmd
}
