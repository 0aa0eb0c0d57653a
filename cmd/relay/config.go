package main

import (
	"fmt"
	"strings"

	"github.com/cuemby/relay/pkg/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a configuration file",
	Long: `Parse and validate a configuration file without starting the broker.

Examples:
  relay config check -c /etc/relay/relay.yaml`,
	RunE: runConfigCheck,
}

func init() {
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ %s is valid\n", path)
	fmt.Fprintf(out, "  Broker: %s (instance %d)\n", cfg.Broker.Name, cfg.Broker.InstanceID)
	if cfg.Broker.CacheDir != "" {
		fmt.Fprintf(out, "  Cache: %s (high watermark %d events)\n", cfg.Broker.CacheDir, cfg.Muxer.HighWatermark)
	} else {
		fmt.Fprintf(out, "  Cache: disabled, queues are memory only\n")
	}

	fmt.Fprintf(out, "  Endpoints: %d\n", len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		target := ep.Address
		if ep.Transport == config.TransportFile {
			target = ep.Path
		}
		line := fmt.Sprintf("    - %s: %s %s %s", ep.Name, ep.Direction, ep.Transport, target)
		if ep.Mode != "" {
			line += " (" + ep.Mode + ")"
		}
		if len(ep.Filters) > 0 {
			line += " filters=" + strings.Join(ep.Filters, ",")
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
