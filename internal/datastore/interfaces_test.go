package datastore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestStore creates a DataStore backed by an in-memory SQLite database.
func newTestStore(t *testing.T) *DataStore {
	t.Helper()

	// Named per-test shared memory database: gorm pools connections, and an
	// anonymous :memory: database would give each connection its own copy.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Failed to open in-memory database")

	require.NoError(t, db.AutoMigrate(&Equipment{}), "Failed to migrate schema")

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return &DataStore{DB: db}
}

func strPtr(s string) *string { return &s }

func seedEquipment(t *testing.T, ds *DataStore, manufacturer, model string, imagePath *string) Equipment {
	t.Helper()
	eq := Equipment{
		Manufacturer: manufacturer,
		Model:        model,
		Name:         manufacturer + " " + model,
		ImagePath:    imagePath,
		Active:       true,
	}
	require.NoError(t, ds.SaveEquipment(&eq))
	return eq
}

func TestFillImagePathOnlyFillsNull(t *testing.T) {
	ds := newTestStore(t)

	empty := seedEquipment(t, ds, "Sony", "HDC-3500", nil)
	taken := seedEquipment(t, ds, "Sony", "HDC-3500", strPtr("/images/existing.jpg"))

	filled, err := ds.FillImagePath(empty.ID, "/images/new.png")
	require.NoError(t, err)
	assert.True(t, filled, "Null image path should be filled")

	filled, err = ds.FillImagePath(taken.ID, "/images/new.png")
	require.NoError(t, err)
	assert.False(t, filled, "Existing image path must not be overwritten")

	got, err := ds.GetEquipment(taken.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ImagePath)
	assert.Equal(t, "/images/existing.jpg", *got.ImagePath)
}

func TestFindEquivalentWithImage(t *testing.T) {
	ds := newTestStore(t)

	subject := seedEquipment(t, ds, "Grass Valley", "LDX 100", nil)
	donor := seedEquipment(t, ds, "Grass Valley", "LDX 100", strPtr("/images/ldx100.png"))
	seedEquipment(t, ds, "Grass Valley", "LDX 150", strPtr("/images/ldx150.png"))

	found, err := ds.FindEquivalentWithImage(subject.Manufacturer, subject.Model, subject.ID)
	require.NoError(t, err)
	require.NotNil(t, found, "Donor in the same group should be found")
	assert.Equal(t, donor.ID, found.ID)

	// The record itself is never its own donor.
	found, err = ds.FindEquivalentWithImage(donor.Manufacturer, donor.Model, donor.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestFindEquivalentWithImageIgnoresInactive(t *testing.T) {
	ds := newTestStore(t)

	subject := seedEquipment(t, ds, "Ross", "Ultrix", nil)
	inactive := seedEquipment(t, ds, "Ross", "Ultrix", strPtr("/images/ultrix.png"))
	inactive.Active = false
	require.NoError(t, ds.SaveEquipment(&inactive))

	found, err := ds.FindEquivalentWithImage(subject.Manufacturer, subject.Model, subject.ID)
	require.NoError(t, err)
	assert.Nil(t, found, "Inactive records must not donate images")
}

func TestFindGroupGaps(t *testing.T) {
	ds := newTestStore(t)

	seedEquipment(t, ds, "Blackmagic", "ATEM 2", strPtr("/images/atem.png"))
	gap1 := seedEquipment(t, ds, "Blackmagic", "ATEM 2", nil)
	gap2 := seedEquipment(t, ds, "Blackmagic", "ATEM 2", nil)
	seedEquipment(t, ds, "Blackmagic", "ATEM 4", nil)

	gaps, err := ds.FindGroupGaps("Blackmagic", "ATEM 2")
	require.NoError(t, err)
	require.Len(t, gaps, 2)

	ids := []uint{gaps[0].ID, gaps[1].ID}
	assert.Contains(t, ids, gap1.ID)
	assert.Contains(t, ids, gap2.ID)
}

func TestCountImageRefs(t *testing.T) {
	ds := newTestStore(t)

	seedEquipment(t, ds, "Sony", "BVM-E251", strPtr("/images/shared.png"))
	seedEquipment(t, ds, "Sony", "BVM-E251", strPtr("/images/shared.png"))
	seedEquipment(t, ds, "Sony", "BVM-E171", strPtr("/images/other.png"))

	count, err := ds.CountImageRefs("/images/shared.png")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = ds.CountImageRefs("/images/missing.png")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestEligibleGroupsOrderAndCap(t *testing.T) {
	ds := newTestStore(t)

	// Three groups with 3, 5 and 1 image-less records.
	for i := 0; i < 3; i++ {
		seedEquipment(t, ds, "Sony", "HDC-3500", nil)
	}
	for i := 0; i < 5; i++ {
		seedEquipment(t, ds, "Grass Valley", "LDX 100", nil)
	}
	seedEquipment(t, ds, "Ross", "Ultrix", nil)

	// Groups that already have images everywhere are not eligible.
	seedEquipment(t, ds, "Blackmagic", "ATEM 2", strPtr("/images/atem.png"))

	groups, err := ds.EligibleGroups(2)
	require.NoError(t, err)
	require.Len(t, groups, 2, "Limit must cap the result")

	assert.Equal(t, "Grass Valley", groups[0].Manufacturer)
	assert.Equal(t, int64(5), groups[0].Count)
	assert.Equal(t, "Sony", groups[1].Manufacturer)
	assert.Equal(t, int64(3), groups[1].Count)

	assert.NotZero(t, groups[0].RepresentativeID)
	assert.NotEmpty(t, groups[0].Name, "Representative name should be attached")
}

func TestEligibleGroupsSkipsBlankIdentity(t *testing.T) {
	ds := newTestStore(t)

	seedEquipment(t, ds, "", "Unknown", nil)
	seedEquipment(t, ds, "Sony", "", nil)
	seedEquipment(t, ds, "Sony", "HDC-3500", nil)

	groups, err := ds.EligibleGroups(10)
	require.NoError(t, err)
	require.Len(t, groups, 1, "Records without both identity fields cannot form groups")
	assert.Equal(t, "Sony", groups[0].Manufacturer)
}

func TestGetEquipmentNotFound(t *testing.T) {
	ds := newTestStore(t)

	_, err := ds.GetEquipment(9999)
	require.Error(t, err)
}

func TestUpdateAndClearImagePath(t *testing.T) {
	ds := newTestStore(t)

	eq := seedEquipment(t, ds, "Sony", "HDC-3500", nil)

	require.NoError(t, ds.UpdateImagePath(eq.ID, "/images/a.png"))
	got, err := ds.GetEquipment(eq.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ImagePath)
	assert.Equal(t, "/images/a.png", *got.ImagePath)

	// Unconditional update replaces an existing path.
	require.NoError(t, ds.UpdateImagePath(eq.ID, "/images/b.png"))
	got, err = ds.GetEquipment(eq.ID)
	require.NoError(t, err)
	assert.Equal(t, "/images/b.png", *got.ImagePath)

	require.NoError(t, ds.ClearImagePath(eq.ID))
	got, err = ds.GetEquipment(eq.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ImagePath)
}

func BenchmarkEligibleGroups(b *testing.B) {
	db, err := gorm.Open(sqlite.Open("file:bench?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		b.Fatalf("open: %v", err)
	}
	if err := db.AutoMigrate(&Equipment{}); err != nil {
		b.Fatalf("migrate: %v", err)
	}
	ds := &DataStore{DB: db}
	for i := 0; i < 500; i++ {
		eq := Equipment{
			Manufacturer: fmt.Sprintf("Maker%d", i%40),
			Model:        fmt.Sprintf("Model%d", i%40),
			Active:       true,
		}
		if err := ds.SaveEquipment(&eq); err != nil {
			b.Fatalf("seed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ds.EligibleGroups(10); err != nil {
			b.Fatalf("eligible groups: %v", err)
		}
	}
}
