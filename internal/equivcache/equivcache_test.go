package equivcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmakela/gearbase/internal/datastore"
)

// mockStore implements the subset of datastore.Interface the cache exercises,
// with canned data and call recording.
type mockStore struct {
	datastore.Interface

	equivalent *datastore.Equipment
	gaps       []datastore.Equipment
	refs       int64

	updatedID    uint
	updatedPath  string
	updateCalls  int
	filledIDs    []uint
	clearedID    uint
	filledResult bool
}

func (m *mockStore) FindEquivalentWithImage(manufacturer, model string, excludeID uint) (*datastore.Equipment, error) {
	return m.equivalent, nil
}

func (m *mockStore) UpdateImagePath(id uint, path string) error {
	m.updateCalls++
	m.updatedID = id
	m.updatedPath = path
	return nil
}

func (m *mockStore) FindGroupGaps(manufacturer, model string) ([]datastore.Equipment, error) {
	return m.gaps, nil
}

func (m *mockStore) FillImagePath(id uint, path string) (bool, error) {
	m.filledIDs = append(m.filledIDs, id)
	return m.filledResult, nil
}

func (m *mockStore) ClearImagePath(id uint) error {
	m.clearedID = id
	return nil
}

func (m *mockStore) CountImageRefs(path string) (int64, error) {
	return m.refs, nil
}

func strPtr(s string) *string { return &s }

func TestReuseFromGroupDonor(t *testing.T) {
	store := &mockStore{
		equivalent: &datastore.Equipment{
			ID:        7,
			ImagePath: strPtr("/images/donor.png"),
		},
	}
	svc := New(store, nil)

	path, err := svc.Reuse(&datastore.Equipment{ID: 3, Manufacturer: "Sony", Model: "HDC-3500"})
	require.NoError(t, err)
	assert.Equal(t, "/images/donor.png", path)
	assert.Equal(t, uint(3), store.updatedID, "Reused path is written to the requesting record")
	assert.Equal(t, "/images/donor.png", store.updatedPath)
}

func TestReuseUnsavedRecordSkipsWrite(t *testing.T) {
	store := &mockStore{
		equivalent: &datastore.Equipment{
			ID:        7,
			ImagePath: strPtr("/images/donor.png"),
		},
	}
	svc := New(store, nil)

	equipment := &datastore.Equipment{Manufacturer: "Sony", Model: "HDC-3500"}
	path, err := svc.Reuse(equipment)
	require.NoError(t, err)
	assert.Equal(t, "/images/donor.png", path)
	assert.Zero(t, store.updateCalls, "An unsaved record has no row to update")
	require.NotNil(t, equipment.ImagePath)
	assert.Equal(t, "/images/donor.png", *equipment.ImagePath)
}

func TestReuseWithoutDonor(t *testing.T) {
	store := &mockStore{}
	svc := New(store, nil)

	path, err := svc.Reuse(&datastore.Equipment{ID: 3, Manufacturer: "Sony", Model: "HDC-3500"})
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Zero(t, store.updatedID, "Nothing to reuse, nothing written")
}

func TestReuseRequiresGroupIdentity(t *testing.T) {
	store := &mockStore{
		equivalent: &datastore.Equipment{ID: 7, ImagePath: strPtr("/images/donor.png")},
	}
	svc := New(store, nil)

	// Missing manufacturer or model means no equivalence group exists.
	path, err := svc.Reuse(&datastore.Equipment{ID: 3, Model: "HDC-3500"})
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = svc.Reuse(&datastore.Equipment{ID: 3, Manufacturer: "Sony"})
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestPropagateFillsGaps(t *testing.T) {
	store := &mockStore{
		gaps: []datastore.Equipment{
			{ID: 11}, {ID: 12}, {ID: 13},
		},
		filledResult: true,
	}
	svc := New(store, nil)

	filled, err := svc.Propagate(
		&datastore.Equipment{ID: 10, Manufacturer: "Sony", Model: "HDC-3500"},
		"/images/new.png")
	require.NoError(t, err)
	assert.Equal(t, 3, filled)
	assert.Equal(t, []uint{11, 12, 13}, store.filledIDs)
}

func TestPropagateCountsOnlyActualFills(t *testing.T) {
	// The gated update can report zero rows when a concurrent writer got there
	// first; those must not count as fills.
	store := &mockStore{
		gaps:         []datastore.Equipment{{ID: 11}, {ID: 12}},
		filledResult: false,
	}
	svc := New(store, nil)

	filled, err := svc.Propagate(
		&datastore.Equipment{ID: 10, Manufacturer: "Sony", Model: "HDC-3500"},
		"/images/new.png")
	require.NoError(t, err)
	assert.Equal(t, 0, filled)
	assert.Len(t, store.filledIDs, 2, "Fill was still attempted on every gap")
}

func TestPropagateNoopWithoutPathOrIdentity(t *testing.T) {
	store := &mockStore{gaps: []datastore.Equipment{{ID: 11}}, filledResult: true}
	svc := New(store, nil)

	filled, err := svc.Propagate(&datastore.Equipment{ID: 10, Manufacturer: "Sony", Model: "X"}, "")
	require.NoError(t, err)
	assert.Zero(t, filled)

	filled, err = svc.Propagate(&datastore.Equipment{ID: 10}, "/images/new.png")
	require.NoError(t, err)
	assert.Zero(t, filled)
}

func TestReleaseImageKeepsSharedFile(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "shared.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("png"), 0o644))

	store := &mockStore{refs: 1} // one other record still references the file
	svc := New(store, nil)

	err := svc.ReleaseImage(&datastore.Equipment{ID: 4, ImagePath: strPtr(imgPath)})
	require.NoError(t, err)

	assert.Equal(t, uint(4), store.clearedID)
	_, statErr := os.Stat(imgPath)
	assert.NoError(t, statErr, "File must survive while other records reference it")
}

func TestReleaseImageDeletesLastReference(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "last.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("png"), 0o644))

	store := &mockStore{refs: 0}
	svc := New(store, nil)

	err := svc.ReleaseImage(&datastore.Equipment{ID: 4, ImagePath: strPtr(imgPath)})
	require.NoError(t, err)

	_, statErr := os.Stat(imgPath)
	assert.True(t, os.IsNotExist(statErr), "Unreferenced file must be deleted")
}

func TestReleaseImageWithoutImageIsNoop(t *testing.T) {
	store := &mockStore{}
	svc := New(store, nil)

	require.NoError(t, svc.ReleaseImage(&datastore.Equipment{ID: 4}))
	assert.Zero(t, store.clearedID)
}

func TestReleaseImageToleratesMissingFile(t *testing.T) {
	store := &mockStore{refs: 0}
	svc := New(store, nil)

	err := svc.ReleaseImage(&datastore.Equipment{
		ID:        4,
		ImagePath: strPtr(filepath.Join(t.TempDir(), "already-gone.png")),
	})
	assert.NoError(t, err, "A file deleted out of band is not an error")
}
