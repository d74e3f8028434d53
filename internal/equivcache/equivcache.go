// Package equivcache reuses acquired images across equipment records that
// describe the same physical product. Records sharing a (manufacturer, model)
// pair form an equivalence group: one acquired image serves them all, and a
// file on disk is only deleted once no record references it.
package equivcache

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kmakela/gearbase/internal/datastore"
	"github.com/kmakela/gearbase/internal/errors"
	"github.com/kmakela/gearbase/internal/logging"
	"github.com/kmakela/gearbase/internal/metrics"
)

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "equivcache.log")
	serviceLevelVar.Set(slog.LevelInfo)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "equivcache", serviceLevelVar)
	if err != nil {
		log.Printf("FATAL: Failed to initialize equivcache file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "equivcache")
		closeLogger = func() error { return nil }
	}
}

// Service implements equivalence-group image reuse on top of the datastore.
type Service struct {
	store   datastore.Interface
	metrics *metrics.AcquisitionMetrics
}

// New creates an equivalence cache service. metrics may be nil.
func New(store datastore.Interface, m *metrics.AcquisitionMetrics) *Service {
	return &Service{store: store, metrics: m}
}

// Reuse looks for another record in the same equivalence group that already
// has an image and assigns its path to the given record. Returns the reused
// path, or "" when the group has no image yet. Unsaved records (ID zero)
// get the path on the in-memory record only; there is no row to update.
func (s *Service) Reuse(equipment *datastore.Equipment) (string, error) {
	if equipment.Manufacturer == "" || equipment.Model == "" {
		return "", nil
	}

	donor, err := s.store.FindEquivalentWithImage(equipment.Manufacturer, equipment.Model, equipment.ID)
	if err != nil {
		if errors.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	if donor == nil || donor.ImagePath == nil || *donor.ImagePath == "" {
		return "", nil
	}

	path := *donor.ImagePath
	if equipment.ID != 0 {
		if err := s.store.UpdateImagePath(equipment.ID, path); err != nil {
			return "", err
		}
	}
	equipment.ImagePath = &path

	if s.metrics != nil {
		s.metrics.IncrementCacheReuses()
	}
	logger.Info("Reused image from equivalence group",
		"equipment_id", equipment.ID,
		"donor_id", donor.ID,
		"manufacturer", equipment.Manufacturer,
		"model", equipment.Model,
		"path", path)

	return path, nil
}

// Propagate assigns imagePath to every record in the source record's
// equivalence group that has no image yet. Records that already carry an
// image keep it; the fill is gated in SQL so concurrent propagations cannot
// overwrite each other. Returns how many records were filled.
func (s *Service) Propagate(equipment *datastore.Equipment, imagePath string) (int, error) {
	if equipment.Manufacturer == "" || equipment.Model == "" || imagePath == "" {
		return 0, nil
	}

	gaps, err := s.store.FindGroupGaps(equipment.Manufacturer, equipment.Model)
	if err != nil {
		return 0, err
	}

	filled := 0
	for i := range gaps {
		ok, err := s.store.FillImagePath(gaps[i].ID, imagePath)
		if err != nil {
			logger.Warn("Failed to propagate image to group member",
				"equipment_id", gaps[i].ID, "error", err)
			continue
		}
		if ok {
			filled++
		}
	}

	if filled > 0 {
		if s.metrics != nil {
			s.metrics.IncrementPropagations(filled)
		}
		logger.Info("Propagated image across equivalence group",
			"manufacturer", equipment.Manufacturer,
			"model", equipment.Model,
			"filled", filled,
			"path", imagePath)
	}

	return filled, nil
}

// ReleaseImage detaches the image from one record and deletes the underlying
// file only when no other record still references the same path.
func (s *Service) ReleaseImage(equipment *datastore.Equipment) error {
	if equipment.ImagePath == nil || *equipment.ImagePath == "" {
		return nil
	}
	path := *equipment.ImagePath

	if err := s.store.ClearImagePath(equipment.ID); err != nil {
		return err
	}

	refs, err := s.store.CountImageRefs(path)
	if err != nil {
		return err
	}
	if refs > 0 {
		logger.Debug("Image still referenced, keeping file",
			"path", path, "remaining_refs", refs)
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New(err).
			Component("equivcache").
			Category(errors.CategoryFileIO).
			Context("operation", "delete_image").
			FileContext(path, 0).
			Build()
	}

	logger.Info("Deleted unreferenced image file", "path", path,
		"equipment_id", equipment.ID)
	return nil
}

// Close flushes the service logger.
func Close() {
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing equivcache logger: %v", err)
		}
	}
}
