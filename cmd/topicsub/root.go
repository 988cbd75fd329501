package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bitechdev/TopicSpec/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "topicsub",
	Short: "Topic subscriber over a shared, reconnecting pub/sub connection",
	Long: `topicsub subscribes to the configured topics over one STOMP, MQTT or NATS
connection. While the connection is down each topic is polled over HTTP, and
the subscriber state is served on a small status endpoint.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := run(cfgFile)
		if err != nil {
			logger.Error("topicsub failed: %v", err)
		}
		logger.Sync()
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "topicsub %s (%s)\n", version, gitCommit)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print the resolved settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, used, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		if used == "" {
			used = "(defaults and environment only)"
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "config:     %s\n", used)
		fmt.Fprintf(out, "transport:  %s\n", cfg.Transport.Kind)
		fmt.Fprintf(out, "topics:     %s\n", strings.Join(cfg.Topics, ", "))
		fmt.Fprintf(out, "poller:     %s\n", valueOr(cfg.Poller.BaseURL, "disabled"))
		fmt.Fprintf(out, "status:     %s\n", cfg.Server.Addr)
		fmt.Fprintf(out, "reconnects: %d every %s\n", cfg.Session.MaxReconnectAttempts, cfg.Session.ReconnectDelay)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./topicspec.yaml, ./config, /etc/topicspec or ~/.topicspec)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkCmd)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
