// interfaces.go: this code defines the interface for the equipment registry operations
package datastore

import (
	"github.com/kmakela/gearbase/internal/conf"
	"github.com/kmakela/gearbase/internal/errors"
	"gorm.io/gorm"
)

// Interface abstracts the underlying database implementation and defines the
// registry operations the acquisition subsystem needs.
type Interface interface {
	Open() error
	Close() error
	GetEquipment(id uint) (Equipment, error)
	SaveEquipment(equipment *Equipment) error
	UpdateImagePath(id uint, path string) error
	FillImagePath(id uint, path string) (bool, error)
	ClearImagePath(id uint) error
	FindEquivalentWithImage(manufacturer, model string, excludeID uint) (*Equipment, error)
	FindGroupGaps(manufacturer, model string) ([]Equipment, error)
	CountImageRefs(path string) (int64, error)
	EligibleGroups(limit int) ([]EquipmentGroup, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Registry.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Registry.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// GetEquipment retrieves an equipment record by its ID.
func (ds *DataStore) GetEquipment(id uint) (Equipment, error) {
	var equipment Equipment
	if err := ds.DB.First(&equipment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Equipment{}, errors.Newf("equipment not found: %d", id).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Context("equipment_id", id).
				Build()
		}
		return Equipment{}, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "get_equipment").
			Context("equipment_id", id).
			Build()
	}
	return equipment, nil
}

// SaveEquipment inserts or updates an equipment record.
func (ds *DataStore) SaveEquipment(equipment *Equipment) error {
	if err := ds.DB.Save(equipment).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_equipment").
			Build()
	}
	return nil
}

// UpdateImagePath unconditionally sets the image path of a record. Used for a
// fresh acquisition on the record itself and for manual uploads.
func (ds *DataStore) UpdateImagePath(id uint, path string) error {
	result := ds.DB.Model(&Equipment{}).Where("id = ?", id).Update("image_path", path)
	if result.Error != nil {
		return errors.New(result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "update_image_path").
			Context("equipment_id", id).
			Build()
	}
	return nil
}

// FillImagePath sets the image path only when it is currently null. The gated
// update keeps cache reuse and propagation idempotent and ensures a manually
// set path is never overwritten. Returns whether a row was updated.
func (ds *DataStore) FillImagePath(id uint, path string) (bool, error) {
	result := ds.DB.Model(&Equipment{}).
		Where("id = ? AND image_path IS NULL", id).
		Update("image_path", path)
	if result.Error != nil {
		return false, errors.New(result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "fill_image_path").
			Context("equipment_id", id).
			Build()
	}
	return result.RowsAffected > 0, nil
}

// ClearImagePath nulls out the image path of a record.
func (ds *DataStore) ClearImagePath(id uint) error {
	result := ds.DB.Model(&Equipment{}).Where("id = ?", id).Update("image_path", nil)
	if result.Error != nil {
		return errors.New(result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "clear_image_path").
			Context("equipment_id", id).
			Build()
	}
	return nil
}

// FindEquivalentWithImage looks up another active record sharing the same
// (manufacturer, model) pair that already has a resolved image path.
func (ds *DataStore) FindEquivalentWithImage(manufacturer, model string, excludeID uint) (*Equipment, error) {
	var equipment Equipment
	err := ds.DB.
		Where("manufacturer = ? AND model = ? AND id != ? AND active = ? AND image_path IS NOT NULL",
			manufacturer, model, excludeID, true).
		First(&equipment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "find_equivalent_with_image").
			Build()
	}
	return &equipment, nil
}

// FindGroupGaps returns every active record of an equivalence group whose
// image path is still null.
func (ds *DataStore) FindGroupGaps(manufacturer, model string) ([]Equipment, error) {
	var records []Equipment
	err := ds.DB.
		Where("manufacturer = ? AND model = ? AND active = ? AND image_path IS NULL",
			manufacturer, model, true).
		Find(&records).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "find_group_gaps").
			Build()
	}
	return records, nil
}

// CountImageRefs counts the active records referencing an image path. Used for
// reference-counted file deletion.
func (ds *DataStore) CountImageRefs(path string) (int64, error) {
	var count int64
	err := ds.DB.Model(&Equipment{}).
		Where("image_path = ? AND active = ?", path, true).
		Count(&count).Error
	if err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "count_image_refs").
			Build()
	}
	return count, nil
}

// EligibleGroups returns up to limit equivalence groups of active, image-less
// records with both identifying fields present, largest group first.
func (ds *DataStore) EligibleGroups(limit int) ([]EquipmentGroup, error) {
	var groups []EquipmentGroup
	err := ds.DB.Model(&Equipment{}).
		Select("manufacturer, model, COUNT(*) as count, MIN(id) as representative_id").
		Where("active = ? AND image_path IS NULL AND manufacturer != '' AND model != ''", true).
		Group("manufacturer, model").
		Order("count DESC").
		Limit(limit).
		Scan(&groups).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "eligible_groups").
			Build()
	}

	// Attach the representative record's free-text name for oracle prompts.
	for i := range groups {
		var rep Equipment
		if err := ds.DB.First(&rep, groups[i].RepresentativeID).Error; err == nil {
			groups[i].Name = rep.Name
		}
	}

	return groups, nil
}

// performAutoMigration performs database migration for all registry models.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Equipment{}); err != nil {
		return errors.Newf("failed to auto-migrate %s database: %v", dbType, err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", dbType).
			Context("operation", "auto_migrate").
			Build()
	}

	if debug {
		getLogger().Debug("Database connection initialized",
			"db_type", dbType,
			"connection", connectionInfo)
	}

	return nil
}
