package bulk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmakela/gearbase/internal/capture"
	"github.com/kmakela/gearbase/internal/datastore"
)

// mockStore serves canned groups and records scheduler writes.
type mockStore struct {
	datastore.Interface

	groups       []datastore.EquipmentGroup
	limitSeen    int
	updatedPaths map[uint]string
}

func (m *mockStore) EligibleGroups(limit int) ([]datastore.EquipmentGroup, error) {
	m.limitSeen = limit
	if len(m.groups) > limit {
		return m.groups[:limit], nil
	}
	return m.groups, nil
}

func (m *mockStore) GetEquipment(id uint) (datastore.Equipment, error) {
	return datastore.Equipment{ID: id, Manufacturer: "M", Model: "X", Active: true}, nil
}

func (m *mockStore) UpdateImagePath(id uint, path string) error {
	if m.updatedPaths == nil {
		m.updatedPaths = map[uint]string{}
	}
	m.updatedPaths[id] = path
	return nil
}

// mockAcquirer returns success or failure per manufacturer, with optional
// panics for specific groups.
type mockAcquirer struct {
	failFor  map[string]bool
	panicFor map[string]bool
	requests []capture.Request
}

func (m *mockAcquirer) Acquire(ctx context.Context, req capture.Request) capture.Result {
	m.requests = append(m.requests, req)
	if m.panicFor[req.Manufacturer] {
		panic("acquirer exploded")
	}
	if m.failFor[req.Manufacturer] {
		return capture.Result{Success: false, Reason: "fetching image: connection refused"}
	}
	return capture.Result{
		Success:   true,
		ImagePath: "/images/" + req.Manufacturer + ".png",
		Method:    capture.MethodDirectDownload,
	}
}

type mockPropagator struct {
	filled int
	calls  int
}

func (m *mockPropagator) Propagate(equipment *datastore.Equipment, imagePath string) (int, error) {
	m.calls++
	return m.filled, nil
}

func makeGroups(n int) []datastore.EquipmentGroup {
	groups := make([]datastore.EquipmentGroup, n)
	for i := range groups {
		groups[i] = datastore.EquipmentGroup{
			Manufacturer:     fmt.Sprintf("Maker%02d", i),
			Model:            fmt.Sprintf("Model%02d", i),
			Count:            int64(n - i), // already size-descending, as the store delivers them
			RepresentativeID: uint(i + 1),
			Name:             fmt.Sprintf("Maker%02d Model%02d", i, i),
		}
	}
	return groups
}

func newTestScheduler(store *mockStore, acquirer *mockAcquirer, propagator *mockPropagator, maxGroups int) *Scheduler {
	return New(store, acquirer, propagator, nil, Config{
		MaxGroups:  maxGroups,
		GroupDelay: time.Millisecond,
		DestDir:    "/images",
	})
}

func TestRunCapsGroupCount(t *testing.T) {
	store := &mockStore{groups: makeGroups(25)}
	acquirer := &mockAcquirer{}
	scheduler := newTestScheduler(store, acquirer, &mockPropagator{}, 10)

	summary, err := scheduler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, store.limitSeen, "The cap is pushed down into the query")
	assert.Equal(t, 10, summary.Processed)
	assert.Len(t, acquirer.requests, 10)

	// Largest group first.
	assert.Equal(t, "Maker00", acquirer.requests[0].Manufacturer)
}

func TestRunAccountsEveryGroup(t *testing.T) {
	store := &mockStore{groups: makeGroups(6)}
	acquirer := &mockAcquirer{failFor: map[string]bool{"Maker01": true, "Maker04": true}}
	propagator := &mockPropagator{filled: 2}
	scheduler := newTestScheduler(store, acquirer, propagator, 10)

	summary, err := scheduler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Processed)
	assert.Equal(t, 4, summary.Success)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, summary.Processed, summary.Success+summary.Failed)
	require.Len(t, summary.Details, 6)

	assert.False(t, summary.Details[1].Success)
	assert.Equal(t, "fetching image: connection refused", summary.Details[1].Reason,
		"Group details carry the acquisition failure verbatim")
	assert.True(t, summary.Details[2].Success, "A failed group must not stop the ones after it")
	assert.Equal(t, 4, propagator.calls, "Propagation runs only for successful groups")
}

func TestRunSurvivesPanickingGroup(t *testing.T) {
	store := &mockStore{groups: makeGroups(3)}
	acquirer := &mockAcquirer{panicFor: map[string]bool{"Maker01": true}}
	scheduler := newTestScheduler(store, acquirer, &mockPropagator{}, 10)

	summary, err := scheduler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Success)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Details[1].Reason, "panic")
}

func TestRunStoresAndPropagatesImage(t *testing.T) {
	store := &mockStore{groups: makeGroups(1)}
	propagator := &mockPropagator{filled: 4}
	scheduler := newTestScheduler(store, &mockAcquirer{}, propagator, 10)

	summary, err := scheduler.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, summary.Success)
	assert.Equal(t, "/images/Maker00.png", store.updatedPaths[1],
		"Acquired image is written to the representative record")
	assert.Equal(t, 4, summary.Details[0].Filled)
	assert.Equal(t, capture.MethodDirectDownload, summary.Details[0].Method)
}

func TestRunCancellationPreservesPartialResults(t *testing.T) {
	store := &mockStore{groups: makeGroups(5)}
	acquirer := &mockAcquirer{}
	scheduler := New(store, acquirer, &mockPropagator{}, nil, Config{
		MaxGroups:  10,
		GroupDelay: 50 * time.Millisecond,
		DestDir:    "/images",
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(75 * time.Millisecond)
		cancel()
	}()

	summary, err := scheduler.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Greater(t, summary.Processed, 0, "Completed groups stay in the summary")
	assert.Less(t, summary.Processed, 5, "Cancellation stops further groups")
	assert.Equal(t, summary.Processed, summary.Success+summary.Failed)
	assert.Len(t, summary.Details, summary.Processed)
}

func TestRunWithNoEligibleGroups(t *testing.T) {
	store := &mockStore{}
	scheduler := newTestScheduler(store, &mockAcquirer{}, &mockPropagator{}, 10)

	summary, err := scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Empty(t, summary.Details)
}
