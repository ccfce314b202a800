// Package cli implements the tripauthd command tree.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrEthical07/tripauth/internal/xdg"
)

var (
	cfgFile    string
	appVersion string
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	return newRootCmd(version, commit, date).Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tripauthd",
		Short: "Authentication service for the travel booking platform",
		Long: `tripauthd issues and verifies credentials for two separate principal
classes: storefront end users and back-office administrators.

Configuration is read from tripauth.yaml (current directory or the XDG
config directory) and TRIPAUTH_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./tripauth.yaml)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newKeysCmd())
	cmd.AddCommand(newSettingsCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("tripauth")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(xdg.ConfigDir())
	}

	setDefaults(viper.GetViper())

	viper.SetEnvPrefix("TRIPAUTH")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()
	_ = viper.ReadInConfig() // config file is optional
}
