package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testCatalog() []Destination {
	return []Destination{
		{ID: "a", ProviderID: "x", ModelID: "x-large", DisplayName: "X Large", Tier: "premium"},
		{ID: "b", ProviderID: "x", ModelID: "x-mini", DisplayName: "X Mini", Tier: "fast"},
		{ID: "c", ProviderID: "y", ModelID: "y-pro", DisplayName: "Y Pro", Tier: "premium"},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(NewMemoryKV(), testCatalog(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestStoreDefaultsEnableAllDestinations(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	enabled := store.EnabledDestinations()
	if len(enabled) != 3 {
		t.Fatalf("expected all 3 destinations enabled, got %d", len(enabled))
	}
}

func TestToggleDestinationNeverEmptiesSet(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	// Arbitrary toggle sequences must leave at least one destination enabled.
	sequence := []string{"a", "b", "c", "a", "b", "c", "b", "a", "c", "c"}
	for i, id := range sequence {
		if err := store.ToggleDestination(id); err != nil {
			t.Fatalf("toggle %d (%s): %v", i, id, err)
		}
		if len(store.EnabledDestinations()) == 0 {
			t.Fatalf("enabled set emptied after toggle %d (%s)", i, id)
		}
	}
}

func TestToggleLastEnabledIsSilentNoop(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	mustToggle(t, store, "a")
	mustToggle(t, store, "b")

	// Only c remains; disabling it is refused without an error.
	if err := store.ToggleDestination("c"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !store.IsEnabled("c") {
		t.Fatal("last enabled destination must stay enabled")
	}
}

func TestToggleUnknownDestinationIsIgnored(t *testing.T) {
	t.Parallel()

	store, err := NewStore(NewMemoryKV(), []Destination{
		{ID: "a", ProviderID: "x", ModelID: "x-large"},
	}, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	// A toggle for an id outside the catalog must not create a phantom
	// enabled entry that lets the last real destination be disabled.
	if err := store.ToggleDestination("ghost"); err != nil {
		t.Fatalf("toggle ghost: %v", err)
	}
	if store.IsEnabled("ghost") {
		t.Fatal("unknown destination must not become enabled")
	}
	if err := store.ToggleDestination("a"); err != nil {
		t.Fatalf("toggle a: %v", err)
	}
	if !store.IsEnabled("a") {
		t.Fatal("last catalog destination must stay enabled")
	}
	if id, ok := store.ResolveDestinationForTier("x", "t"); !ok || id != "a" {
		t.Fatalf("resolved (%q, %v), want a", id, ok)
	}
}

func TestStoreLoadDropsStaleDestinations(t *testing.T) {
	t.Parallel()

	kv := NewMemoryKV()
	if err := kv.Save([]byte(`{"version":1,"enabledDestinationIds":["a","removed"]}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	store, err := NewStore(kv, testCatalog(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if store.IsEnabled("removed") {
		t.Fatal("stale id must not survive load")
	}
	if !store.IsEnabled("a") {
		t.Fatal("catalog id should stay enabled")
	}
}

func TestResolveForTierPrefersConfiguredAssignment(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.SetTierDestination("x", "fast", "b"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	id, ok := store.ResolveDestinationForTier("x", "fast")
	if !ok || id != "b" {
		t.Fatalf("resolved (%q, %v), want b", id, ok)
	}
}

func TestResolveForTierFallsBackPastDisabledTarget(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.SetTierDestination("x", "t", "b"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	mustToggle(t, store, "b")

	// Tier t points at the now-disabled b; resolution falls back to the
	// first enabled destination of the same provider.
	id, ok := store.ResolveDestinationForTier("x", "t")
	if !ok || id != "a" {
		t.Fatalf("resolved (%q, %v), want a", id, ok)
	}
}

func TestResolveForTierNoEnabledProviderDestinations(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	mustToggle(t, store, "c")

	if id, ok := store.ResolveDestinationForTier("y", "premium"); ok {
		t.Fatalf("expected no resolution, got %q", id)
	}
}

func TestResolveForTierUnassignedTierUsesFirstEnabled(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	id, ok := store.ResolveDestinationForTier("x", "never-assigned")
	if !ok || id != "a" {
		t.Fatalf("resolved (%q, %v), want a", id, ok)
	}
}

func TestSetTierDestinationSkipsWriteTimeValidation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	mustToggle(t, store, "b")

	// Assigning a disabled destination is accepted; the fallback happens at
	// resolution time.
	if err := store.SetTierDestination("x", "t", "b"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if snap := store.Snapshot(); snap.TierAssignment["x"]["t"] != "b" {
		t.Fatalf("assignment not stored: %+v", snap.TierAssignment)
	}
}

func TestSetTierDestinationClearsAssignment(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.SetTierDestination("x", "t", "b"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := store.SetTierDestination("x", "t", ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if snap := store.Snapshot(); len(snap.TierAssignment) != 0 {
		t.Fatalf("assignment not cleared: %+v", snap.TierAssignment)
	}
}

func TestStorePersistsAcrossReload(t *testing.T) {
	t.Parallel()

	kv := NewMemoryKV()
	store, err := NewStore(kv, testCatalog(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	mustToggle(t, store, "b")
	if err := store.SetTierDestination("y", "premium", "c"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	reloaded, err := NewStore(kv, testCatalog(), nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.IsEnabled("b") {
		t.Fatal("b should stay disabled after reload")
	}
	if id, ok := reloaded.ResolveDestinationForTier("y", "premium"); !ok || id != "c" {
		t.Fatalf("tier assignment lost: (%q, %v)", id, ok)
	}
}

func TestStoreToleratesCorruptDocument(t *testing.T) {
	t.Parallel()

	kv := NewMemoryKV()
	if err := kv.Save([]byte("{not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	store, err := NewStore(kv, testCatalog(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if len(store.EnabledDestinations()) != 3 {
		t.Fatal("corrupt document should fall back to defaults")
	}
}

func TestStoreRestoresDefaultsWhenStoredSetEmpty(t *testing.T) {
	t.Parallel()

	kv := NewMemoryKV()
	if err := kv.Save([]byte(`{"version":1,"enabledDestinationIds":[]}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	store, err := NewStore(kv, testCatalog(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if len(store.EnabledDestinations()) == 0 {
		t.Fatal("empty stored set must not survive load")
	}
}

func TestStoreSaveFailureKeepsPriorState(t *testing.T) {
	t.Parallel()

	kv := NewMemoryKV()
	store, err := NewStore(kv, testCatalog(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	kv.FailSavesWith(errors.New("disk full"))
	if err := store.ToggleDestination("a"); err == nil {
		t.Fatal("expected persist error")
	}
	if !store.IsEnabled("a") {
		t.Fatal("failed mutation must not be visible in memory")
	}
}

func TestFileKVRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	kv := NewFileKV(path)

	if _, stored, err := kv.Load(); err != nil || stored {
		t.Fatalf("empty load = (%v, %v), want no data", stored, err)
	}

	if err := kv.Save([]byte("payload")); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, stored, err := kv.Load()
	if err != nil || !stored || string(data) != "payload" {
		t.Fatalf("load = (%q, %v, %v)", data, stored, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func mustToggle(t *testing.T, store *Store, id string) {
	t.Helper()
	if err := store.ToggleDestination(id); err != nil {
		t.Fatalf("toggle %s: %v", id, err)
	}
}
