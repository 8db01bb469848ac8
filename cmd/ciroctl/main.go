// Command ciroctl exercises the routing pipeline from a terminal.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	appconfig "github.com/wolfman30/ciro-tutor/internal/config"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	routingPath string
	logLevel    string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "ciroctl",
		Short:         "Inspect and drive Ciro's routing engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.routingPath, "routing", "", "routing table YAML (defaults to ROUTING_CONFIG_PATH or built-ins)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "error", "log level")

	cmd.AddCommand(askCmd(flags), routeCmd(flags), statsCmd(flags))
	return cmd
}

// load reads the environment config with command-line overrides applied.
func (g *globalFlags) load() (*appconfig.Config, *logging.Logger) {
	cfg := appconfig.Load()
	if g.routingPath != "" {
		cfg.RoutingConfigPath = g.routingPath
	}
	logger := logging.NewWithOptions(logging.Options{Level: g.logLevel, Format: "text", Output: os.Stderr})
	return cfg, logger
}
