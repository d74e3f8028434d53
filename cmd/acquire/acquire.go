// Package acquire implements the single-item acquisition subcommand.
package acquire

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kmakela/gearbase/internal/browser"
	"github.com/kmakela/gearbase/internal/capture"
	"github.com/kmakela/gearbase/internal/conf"
	"github.com/kmakela/gearbase/internal/datastore"
	"github.com/kmakela/gearbase/internal/equivcache"
	"github.com/kmakela/gearbase/internal/fetcher"
	"github.com/kmakela/gearbase/internal/oracle"
)

// Command creates the acquire subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acquire [manufacturer] [model]",
		Short: "Acquire an image for a single piece of equipment",
		Long: "Run the acquisition pipeline for one (manufacturer, model) pair: " +
			"reuse an existing group image if one exists, otherwise try a direct " +
			"download and fall back to a browser screenshot.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAcquire(cmd.Context(), settings, args[0], args[1])
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().DurationVar(&settings.Fetch.Timeout, "fetchtimeout", viper.GetDuration("fetch.timeout"), "Timeout for direct image downloads")
	cmd.Flags().DurationVar(&settings.Browser.NavTimeout, "navtimeout", viper.GetDuration("browser.navtimeout"), "Browser navigation timeout")
	cmd.Flags().BoolVar(&settings.Browser.Headless, "headless", viper.GetBool("browser.headless"), "Run the browser headless")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

func runAcquire(ctx context.Context, settings *conf.Settings, manufacturer, model string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Printf("error closing registry: %v\n", err)
		}
	}()

	oracleClient := oracle.NewClient(oracle.ConfigFromSettings(settings))
	defer oracleClient.Close()

	downloader := fetcher.New(settings)
	defer downloader.Close()

	engine := browser.GetEngine(settings)
	defer engine.Close()

	cache := equivcache.New(store, nil)
	orchestrator := capture.New(oracleClient, downloader, engine, nil)

	equipment := &datastore.Equipment{Manufacturer: manufacturer, Model: model, Active: true}
	if reused, err := cache.Reuse(equipment); err == nil && reused != "" {
		fmt.Printf("Reused existing group image: %s\n", reused)
		return nil
	}

	result := orchestrator.Acquire(ctx, capture.Request{
		Manufacturer: manufacturer,
		Model:        model,
		Name:         manufacturer + " " + model,
		DestDir:      settings.Upload.Dir,
	})

	if !result.Success {
		fmt.Printf("No image acquired: %s\n", result.Reason)
		return nil
	}

	fmt.Printf("Image acquired via %s: %s (%.1fs)\n",
		result.Method, result.ImagePath, result.Duration.Seconds())

	if filled, err := cache.Propagate(equipment, result.ImagePath); err == nil && filled > 0 {
		fmt.Printf("Propagated to %d records in the same group\n", filled)
	}

	return nil
}
