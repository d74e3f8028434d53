// defaults.go: default configuration values applied before reading the config file
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets viper defaults for each configuration parameter.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "GearBase")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "gearbase.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)

	viper.SetDefault("registry.sqlite.enabled", true)
	viper.SetDefault("registry.sqlite.path", "gearbase.db")
	viper.SetDefault("registry.mysql.enabled", false)
	viper.SetDefault("registry.mysql.username", "gearbase")
	viper.SetDefault("registry.mysql.password", "")
	viper.SetDefault("registry.mysql.database", "gearbase")
	viper.SetDefault("registry.mysql.host", "localhost")
	viper.SetDefault("registry.mysql.port", "3306")

	viper.SetDefault("upload.dir", "uploads/equipment")

	viper.SetDefault("oracle.baseurl", "https://api.openai.com/v1")
	viper.SetDefault("oracle.apikey", "")
	viper.SetDefault("oracle.model", "gpt-4o-mini")
	viper.SetDefault("oracle.timeout", 20*time.Second)
	viper.SetDefault("oracle.ratelimitms", 500)
	viper.SetDefault("oracle.cachettl", 1*time.Hour)

	viper.SetDefault("fetch.timeout", 15*time.Second)
	viper.SetDefault("fetch.maxredirects", 5)
	viper.SetDefault("fetch.minimagesize", 1000)
	viper.SetDefault("fetch.useragent", DefaultUserAgent)

	viper.SetDefault("browser.execpath", "")
	viper.SetDefault("browser.headless", true)
	viper.SetDefault("browser.navtimeout", 30*time.Second)
	viper.SetDefault("browser.settledelay", 2*time.Second)
	viper.SetDefault("browser.viewportwidth", 1280)
	viper.SetDefault("browser.viewportheight", 800)
	viper.SetDefault("browser.useragent", DefaultUserAgent)

	viper.SetDefault("bulk.maxgroups", 10)
	viper.SetDefault("bulk.groupdelay", 1*time.Second)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
