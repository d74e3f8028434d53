// model.go this code defines the data model for the equipment registry
package datastore

import "time"

// Equipment represents a single equipment record in the knowledge base.
// This subsystem reads manufacturer/model/name and writes ImagePath; everything
// else is owned by the registry's CRUD layer.
type Equipment struct {
	ID           uint   `gorm:"primaryKey"`
	Manufacturer string `gorm:"index:idx_equipment_mfr_model"`
	Model        string `gorm:"index:idx_equipment_mfr_model"`
	Name         string
	ImagePath    *string `gorm:"index:idx_equipment_image_path"`
	Active       bool    `gorm:"index:idx_equipment_active"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EquipmentGroup summarizes an equivalence group of active, image-less records
// sharing the same (manufacturer, model) pair.
type EquipmentGroup struct {
	Manufacturer     string
	Model            string
	Count            int64
	RepresentativeID uint
	Name             string
}
