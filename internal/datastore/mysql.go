package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/kmakela/gearbase/internal/conf"
)

// MySQLStore implements the registry Interface for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

func validateMySQLConfig(settings *conf.Settings) error {
	cfg := settings.Registry.MySQL
	if cfg.Username == "" || cfg.Database == "" || cfg.Host == "" || cfg.Port == "" {
		return fmt.Errorf("incomplete mysql configuration")
	}
	return nil
}

// Open sets up the MySQL database connection
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.Settings); err != nil {
		return err
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		store.Settings.Registry.MySQL.Username, store.Settings.Registry.MySQL.Password,
		store.Settings.Registry.MySQL.Host, store.Settings.Registry.MySQL.Port,
		store.Settings.Registry.MySQL.Database)

	newLogger := createGormLogger()

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: newLogger})
	if err != nil {
		getLogger().Error("Failed to open MySQL database",
			"host", store.Settings.Registry.MySQL.Host,
			"port", store.Settings.Registry.MySQL.Port,
			"database", store.Settings.Registry.MySQL.Database,
			"error", err)
		return fmt.Errorf("failed to open MySQL database: %w", err)
	}

	store.DB = db
	return performAutoMigration(db, store.Settings.Debug, "MySQL", store.Settings.Registry.MySQL.Host)
}

// Close handles close specific to MySQL
func (store *MySQLStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
