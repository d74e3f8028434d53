// validate.go: validation of loaded settings
package conf

import (
	"github.com/kmakela/gearbase/internal/errors"
)

// ValidateSettings checks the loaded settings for obvious misconfiguration.
func ValidateSettings(settings *Settings) error {
	if settings.Upload.Dir == "" {
		return errors.Newf("upload.dir must not be empty").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("setting", "upload.dir").
			Build()
	}

	if settings.Fetch.MaxRedirects < 0 {
		return errors.Newf("fetch.maxredirects must not be negative: %d", settings.Fetch.MaxRedirects).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("setting", "fetch.maxredirects").
			Build()
	}

	if settings.Fetch.MinImageSize <= 0 {
		return errors.Newf("fetch.minimagesize must be positive: %d", settings.Fetch.MinImageSize).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("setting", "fetch.minimagesize").
			Build()
	}

	if settings.Browser.ViewportWidth <= 0 || settings.Browser.ViewportHeight <= 0 {
		return errors.Newf("browser viewport dimensions must be positive: %dx%d",
			settings.Browser.ViewportWidth, settings.Browser.ViewportHeight).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("setting", "browser.viewport").
			Build()
	}

	if settings.Bulk.MaxGroups <= 0 {
		return errors.Newf("bulk.maxgroups must be positive: %d", settings.Bulk.MaxGroups).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("setting", "bulk.maxgroups").
			Build()
	}

	if settings.Registry.MySQL.Enabled && settings.Registry.SQLite.Enabled {
		return errors.Newf("only one registry backend may be enabled at a time").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("setting", "registry").
			Build()
	}

	return nil
}
