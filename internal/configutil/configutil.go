package configutil

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// FlagOrViperString resolves a string setting: an explicitly set flag wins,
// otherwise the viper key (config file or THREADVAULT_* env) is used.
func FlagOrViperString(cmd *cobra.Command, flagName, viperKey string) string {
	if flagChanged(cmd, flagName) {
		if v, err := cmd.Flags().GetString(flagName); err == nil {
			return v
		}
	}
	if strings.TrimSpace(viperKey) == "" {
		if cmd != nil && strings.TrimSpace(flagName) != "" {
			if v, err := cmd.Flags().GetString(flagName); err == nil {
				return v
			}
		}
		return ""
	}
	return viper.GetString(viperKey)
}

func FlagOrViperBool(cmd *cobra.Command, flagName, viperKey string) bool {
	if flagChanged(cmd, flagName) {
		if v, err := cmd.Flags().GetBool(flagName); err == nil {
			return v
		}
	}
	if strings.TrimSpace(viperKey) == "" {
		if cmd != nil && strings.TrimSpace(flagName) != "" {
			if v, err := cmd.Flags().GetBool(flagName); err == nil {
				return v
			}
		}
		return false
	}
	return viper.GetBool(viperKey)
}

func FlagOrViperInt(cmd *cobra.Command, flagName, viperKey string) int {
	if flagChanged(cmd, flagName) {
		if v, err := cmd.Flags().GetInt(flagName); err == nil {
			return v
		}
	}
	if strings.TrimSpace(viperKey) == "" {
		return 0
	}
	return viper.GetInt(viperKey)
}

func FlagOrViperDuration(cmd *cobra.Command, flagName, viperKey string) time.Duration {
	if flagChanged(cmd, flagName) {
		if v, err := cmd.Flags().GetDuration(flagName); err == nil {
			return v
		}
	}
	if strings.TrimSpace(viperKey) == "" {
		return 0
	}
	return viper.GetDuration(viperKey)
}

func flagChanged(cmd *cobra.Command, flagName string) bool {
	if cmd == nil || strings.TrimSpace(flagName) == "" {
		return false
	}
	f := cmd.Flags().Lookup(flagName)
	return f != nil && f.Changed
}
