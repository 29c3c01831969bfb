package settings

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"nexus/internal/logging"
)

const settingsVersion = 1

// Destination describes one broadcast target from the configured catalog.
type Destination struct {
	ID          string `json:"id"`
	ProviderID  string `json:"providerId"`
	ModelID     string `json:"modelId"`
	DisplayName string `json:"displayName"`
	Tier        string `json:"tier,omitempty"`
}

// Settings is a snapshot of user-adjustable destination preferences.
//
// EnabledDestinationIDs is never empty while any destination exists in the
// catalog; ToggleDestination refuses mutations that would violate that.
type Settings struct {
	EnabledDestinationIDs map[string]bool
	// TierAssignment maps provider id, then tier name, to a destination id.
	// Assignments are not validated against the enabled set at write time;
	// ResolveForTier handles disabled targets at read time.
	TierAssignment map[string]map[string]string
}

func (s Settings) clone() Settings {
	out := Settings{
		EnabledDestinationIDs: make(map[string]bool, len(s.EnabledDestinationIDs)),
		TierAssignment:        make(map[string]map[string]string, len(s.TierAssignment)),
	}
	for id, on := range s.EnabledDestinationIDs {
		out.EnabledDestinationIDs[id] = on
	}
	for provider, tiers := range s.TierAssignment {
		inner := make(map[string]string, len(tiers))
		for tier, dest := range tiers {
			inner[tier] = dest
		}
		out.TierAssignment[provider] = inner
	}
	return out
}

// ResolveForTier picks the destination a tier request should use, as a pure
// function of the settings snapshot and catalog.
//
// Resolution order: the configured assignment if that destination is enabled,
// otherwise the first enabled catalog destination of the same provider. The
// second return is false when the provider has no enabled destinations.
func ResolveForTier(s Settings, catalog []Destination, providerID, tier string) (string, bool) {
	if tiers, ok := s.TierAssignment[providerID]; ok {
		if id := tiers[tier]; id != "" && s.EnabledDestinationIDs[id] {
			return id, true
		}
	}
	for _, dest := range catalog {
		if dest.ProviderID == providerID && s.EnabledDestinationIDs[dest.ID] {
			return dest.ID, true
		}
	}
	return "", false
}

// settingsDoc is the on-disk shape of a settings snapshot.
type settingsDoc struct {
	Version               int                          `json:"version"`
	EnabledDestinationIDs []string                     `json:"enabledDestinationIds"`
	TierAssignment        map[string]map[string]string `json:"tierAssignment,omitempty"`
}

// Store holds the live settings snapshot and persists every mutation
// synchronously before it becomes visible.
type Store struct {
	mu      sync.Mutex
	kv      KV
	catalog []Destination
	known   map[string]bool
	logger  logging.Logger
	current Settings
}

// NewStore loads settings from kv, falling back to defaults (every catalog
// destination enabled, no tier assignments) when nothing is stored or the
// stored document cannot be parsed. A corrupt document is logged and
// discarded rather than surfaced as an error.
func NewStore(kv KV, catalog []Destination, logger logging.Logger) (*Store, error) {
	s := &Store{
		kv:      kv,
		catalog: append([]Destination(nil), catalog...),
		known:   make(map[string]bool, len(catalog)),
		logger:  logging.OrNop(logger),
	}
	for _, dest := range s.catalog {
		s.known[dest.ID] = true
	}

	data, stored, err := kv.Load()
	if err != nil {
		return nil, err
	}

	s.current = s.defaults()
	if stored {
		var doc settingsDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logger.Warn("Discarding unreadable settings document: %v", err)
		} else {
			s.current = s.fromDoc(doc)
		}
	}
	return s, nil
}

func (s *Store) defaults() Settings {
	out := Settings{
		EnabledDestinationIDs: make(map[string]bool, len(s.catalog)),
		TierAssignment:        make(map[string]map[string]string),
	}
	for _, dest := range s.catalog {
		out.EnabledDestinationIDs[dest.ID] = true
	}
	return out
}

func (s *Store) fromDoc(doc settingsDoc) Settings {
	out := Settings{
		EnabledDestinationIDs: make(map[string]bool, len(doc.EnabledDestinationIDs)),
		TierAssignment:        doc.TierAssignment,
	}
	if out.TierAssignment == nil {
		out.TierAssignment = make(map[string]map[string]string)
	}
	for _, id := range doc.EnabledDestinationIDs {
		// Ids that left the catalog (edited config, stale document) must not
		// count toward the at-least-one-enabled invariant.
		if !s.known[id] {
			s.logger.Warn("Dropping stored destination %s: not in catalog", id)
			continue
		}
		out.EnabledDestinationIDs[id] = true
	}
	// A stored empty set would break the at-least-one-enabled invariant,
	// so treat it like a missing document.
	if len(out.EnabledDestinationIDs) == 0 && len(s.catalog) > 0 {
		s.logger.Warn("Stored settings enable no destinations; restoring defaults")
		return s.defaults()
	}
	return out
}

// Snapshot returns a deep copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.clone()
}

// Catalog returns the configured destination catalog in declaration order.
func (s *Store) Catalog() []Destination {
	return append([]Destination(nil), s.catalog...)
}

// IsEnabled reports whether a destination participates in broadcasts.
func (s *Store) IsEnabled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.EnabledDestinationIDs[id]
}

// EnabledDestinations returns the enabled catalog destinations in catalog
// order.
func (s *Store) EnabledDestinations() []Destination {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Destination, 0, len(s.catalog))
	for _, dest := range s.catalog {
		if s.current.EnabledDestinationIDs[dest.ID] {
			out = append(out, dest)
		}
	}
	return out
}

// ToggleDestination flips membership of id in the enabled set and persists
// the result. Ids outside the catalog are ignored: a phantom entry would
// satisfy the at-least-one-enabled check while no real destination is left.
// A toggle that would leave the set empty is likewise a silent no-op.
func (s *Store) ToggleDestination(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.known[id] {
		s.logger.Debug("Ignoring toggle for unknown destination %s", id)
		return nil
	}

	next := s.current.clone()
	if next.EnabledDestinationIDs[id] {
		if s.enabledCountLocked(next) == 1 {
			s.logger.Debug("Refusing to disable last enabled destination %s", id)
			return nil
		}
		delete(next.EnabledDestinationIDs, id)
	} else {
		next.EnabledDestinationIDs[id] = true
	}
	return s.commitLocked(next)
}

// SetTierDestination assigns a destination to a provider tier, or clears the
// assignment when destinationID is empty. The destination is deliberately not
// checked against the enabled set here; a disabled target falls back at
// resolution time.
func (s *Store) SetTierDestination(providerID, tier, destinationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.clone()
	if destinationID == "" {
		if tiers, ok := next.TierAssignment[providerID]; ok {
			delete(tiers, tier)
			if len(tiers) == 0 {
				delete(next.TierAssignment, providerID)
			}
		}
	} else {
		tiers := next.TierAssignment[providerID]
		if tiers == nil {
			tiers = make(map[string]string)
			next.TierAssignment[providerID] = tiers
		}
		tiers[tier] = destinationID
	}
	return s.commitLocked(next)
}

// ResolveDestinationForTier resolves a provider tier against the current
// snapshot. See ResolveForTier for the fallback order.
func (s *Store) ResolveDestinationForTier(providerID, tier string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ResolveForTier(s.current, s.catalog, providerID, tier)
}

// commitLocked persists next and makes it current. The mutation is dropped if
// the write fails, so the in-memory view never runs ahead of disk.
func (s *Store) commitLocked(next Settings) error {
	if err := s.kv.Save(encodeDoc(next)); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	s.current = next
	return nil
}

func encodeDoc(s Settings) []byte {
	ids := make([]string, 0, len(s.EnabledDestinationIDs))
	for id := range s.EnabledDestinationIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	doc := settingsDoc{
		Version:               settingsVersion,
		EnabledDestinationIDs: ids,
	}
	if len(s.TierAssignment) > 0 {
		doc.TierAssignment = s.TierAssignment
	}
	data, _ := json.MarshalIndent(doc, "", "  ")
	return append(data, '\n')
}

// enabledCountLocked counts enabled catalog destinations only.
func (s *Store) enabledCountLocked(next Settings) int {
	count := 0
	for id, on := range next.EnabledDestinationIDs {
		if on && s.known[id] {
			count++
		}
	}
	return count
}
