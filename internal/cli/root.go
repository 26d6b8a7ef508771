package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/whatsapplogin/wal/internal/config"
)

var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersion is called from main to inject build-time version info.
func SetVersion(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
}

var rootCmd = &cobra.Command{
	Use:   "wal",
	Short: "Phone number verification over WhatsApp",
	Long: `wal verifies phone numbers with one-time codes delivered over WhatsApp.

Verify a number against a running gateway:
  wal login --api-url http://localhost:3000 --phone +15551234567

Run the gateway that issues and checks codes:
  wal gateway --channel evolution`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to wal.toml config file")
	rootCmd.PersistentFlags().String("env-file", "", "Path to a .env file (default: ./.env when present)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// configFlags are the flags that override config values when set.
var configFlags = []string{"env-file", "log-level", "provider", "api-url", "session-id", "channel", "host", "port"}

// loadConfig resolves the configuration for cmd, applying any config flags
// the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	return config.Load(configPath, changedFlags(cmd.Flags(), configFlags))
}

func changedFlags(fs *pflag.FlagSet, names []string) map[string]string {
	out := make(map[string]string)
	for _, name := range names {
		if f := fs.Lookup(name); f != nil && f.Changed {
			out[name] = f.Value.String()
		}
	}
	return out
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
