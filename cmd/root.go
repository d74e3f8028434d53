package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kmakela/gearbase/cmd/acquire"
	"github.com/kmakela/gearbase/cmd/bulk"
	"github.com/kmakela/gearbase/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gearbase",
		Short: "Gearbase equipment image acquisition CLI",
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	// Add sub-commands to the root command.
	subcommands := []*cobra.Command{
		acquire.Command(settings),
		bulk.Command(settings),
	}

	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Upload.Dir, "uploaddir", viper.GetString("upload.dir"), "Directory where acquired images are stored")
	rootCmd.PersistentFlags().StringVar(&settings.Oracle.BaseURL, "oracleurl", viper.GetString("oracle.baseurl"), "Base URL of the knowledge oracle endpoint")
	rootCmd.PersistentFlags().StringVar(&settings.Browser.ExecPath, "chromepath", viper.GetString("browser.execpath"), "Path to the Chrome/Chromium binary")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
