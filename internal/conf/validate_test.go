package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	s := &Settings{}
	s.Upload.Dir = "/var/lib/gearbase/images"
	s.Registry.SQLite.Enabled = true
	s.Registry.SQLite.Path = "gearbase.db"
	s.Fetch.Timeout = 15 * time.Second
	s.Fetch.MaxRedirects = 5
	s.Fetch.MinImageSize = 1000
	s.Browser.ViewportWidth = 1280
	s.Browser.ViewportHeight = 800
	s.Bulk.MaxGroups = 10
	s.Bulk.GroupDelay = time.Second
	return s
}

func TestValidateSettingsAcceptsDefaults(t *testing.T) {
	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"empty upload dir", func(s *Settings) { s.Upload.Dir = "" }},
		{"negative redirects", func(s *Settings) { s.Fetch.MaxRedirects = -1 }},
		{"zero min image size", func(s *Settings) { s.Fetch.MinImageSize = 0 }},
		{"zero viewport", func(s *Settings) { s.Browser.ViewportWidth = 0 }},
		{"zero max groups", func(s *Settings) { s.Bulk.MaxGroups = 0 }},
		{"both registries enabled", func(s *Settings) { s.Registry.MySQL.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			assert.Error(t, ValidateSettings(s))
		})
	}
}

func TestSettingReturnsTestInstance(t *testing.T) {
	s := validSettings()
	SetTestSettings(s)
	t.Cleanup(func() { SetTestSettings(nil) })

	assert.Same(t, s, Setting())
}
