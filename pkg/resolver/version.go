package resolver

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// VersionStore tracks the most-recently-activated version of each protocol
// id, so CheckVersionMonotonic can detect rollback attempts.
type VersionStore interface {
	GetActivatedVersion(protocolID string) (*semver.Version, bool)
	SetActivatedVersion(protocolID string, v *semver.Version)
}

// CheckVersionMonotonic rejects activating protocolID at newVersion if a
// higher version was previously activated. Protocol versions that are not
// valid semver are not compared and always pass, so this guard only
// engages when both the stored and new versions parse as semver.
func CheckVersionMonotonic(store VersionStore, protocolID, newVersion string) error {
	nv, err := semver.NewVersion(newVersion)
	if err != nil {
		return nil // non-semver version strings are not subject to this guard
	}

	prev, ok := store.GetActivatedVersion(protocolID)
	if !ok {
		store.SetActivatedVersion(protocolID, nv)
		return nil
	}

	if nv.LessThan(prev) {
		return fmt.Errorf("rollback rejected: protocol %q version %s is older than previously activated %s", protocolID, newVersion, prev.String())
	}

	store.SetActivatedVersion(protocolID, nv)
	return nil
}

// MemoryVersionStore is a simple in-memory VersionStore for tests and
// single-process deployments.
type MemoryVersionStore struct {
	versions map[string]*semver.Version
}

// NewMemoryVersionStore creates an empty MemoryVersionStore.
func NewMemoryVersionStore() *MemoryVersionStore {
	return &MemoryVersionStore{versions: make(map[string]*semver.Version)}
}

func (s *MemoryVersionStore) GetActivatedVersion(protocolID string) (*semver.Version, bool) {
	v, ok := s.versions[protocolID]
	return v, ok
}

func (s *MemoryVersionStore) SetActivatedVersion(protocolID string, v *semver.Version) {
	s.versions[protocolID] = v
}
