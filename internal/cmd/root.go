package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"omx/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "omx",
	Short: "Local multi-worker agent team orchestrator",
	Long: `Omx runs teams of external AI-CLI workers on a single machine: it spawns
workers into terminal-multiplexer panes (or headless child processes),
distributes tasks among them, tracks their liveness, routes messages, and
guarantees graceful shutdown and cleanup.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under ctx, so Ctrl-C cancels the
// running verb instead of killing the process mid-write.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/omx/config.yaml)")
	rootCmd.PersistentFlags().String("dir", "", "project directory holding the .omx state tree (default is the working directory)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/omx")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("OMX")
	// Replace dots with underscores for nested keys in env vars
	// e.g., OMX_SCALING_COOLDOWN_MS for scaling.cooldown_ms
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// The runtime contract also honors bare names like CLAIM_LEASE_MS.
	config.BindRuntimeEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
