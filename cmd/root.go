package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentrag/src/log"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentrag",
	Short: "Question answering over the Givaudan knowledge base",
	Long: `agentrag answers questions with a reasoning agent that searches a hybrid
knowledge index and the web, and caches answers by semantic similarity.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
			}
		}
		return log.Setup(viper.GetString("log.level"), viper.GetString("log.format"))
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	// a missing .env is fine
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	settingDefaultConfig()
}
