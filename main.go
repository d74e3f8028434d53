package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kmakela/gearbase/cmd"
	"github.com/kmakela/gearbase/internal/conf"
	"github.com/kmakela/gearbase/internal/logging"
	"github.com/kmakela/gearbase/internal/telemetry"
)

// version is set at build time via ldflags
var version = "dev"

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	settings.Version = version

	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	}

	if err := telemetry.Init(settings); err != nil {
		// Telemetry is optional, never fatal.
		logging.Warn("Failed to initialize telemetry", "error", err)
	}
	defer telemetry.Flush(3 * time.Second)

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
