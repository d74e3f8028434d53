// utils.go: shared helpers for configuration path handling
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kmakela/gearbase/internal/errors"
)

const osWindows = "windows"

// DefaultUserAgent is the browser identity presented to product sites.
// Several vendor sites refuse requests from non-browser user agents, so the
// direct fetch and browser strategies both present a current desktop Chrome.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// GetDefaultConfigPaths returns OS specific config paths for the application.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-executable-path").
			Build()
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", "gearbase"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "gearbase"),
			"/etc/gearbase",
			".",
		}
	}

	return configPaths, nil
}

// GetBasePath expands and normalizes a path and ensures the directory exists.
func GetBasePath(path string) string {
	expandedPath := os.ExpandEnv(path)
	basePath := filepath.Clean(expandedPath)

	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		if err := os.MkdirAll(basePath, 0o750); err != nil {
			fmt.Printf("failed to create directory '%s': %v\n", basePath, err)
		}
	}

	return basePath
}
