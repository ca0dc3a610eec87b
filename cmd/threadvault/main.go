package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/threadvault/cmd/threadvault/servecmd"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "threadvault",
		Short:         "Archive Slack threads into a Notion knowledge base",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return initConfig(configPath)
		},
	}
	root.PersistentFlags().String("config", "", "Config file path (default: ./threadvault.yaml, $HOME/.threadvault/threadvault.yaml)")
	root.AddCommand(servecmd.New())
	return root
}

func initConfig(configPath string) error {
	viper.SetEnvPrefix("THREADVAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if strings.TrimSpace(configPath) != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("threadvault")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.threadvault")
		}
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// A config file is optional; env vars and flags can carry everything.
		if errors.As(err, &notFound) && strings.TrimSpace(configPath) == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}
