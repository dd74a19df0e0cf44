// Package layers keeps map layers and overlays per asset.
//
// The store is in-memory and safe for concurrent use. Values are copied on
// the way in and out so callers never share slices with the store.
package layers

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/solatis/policydesk/internal/types"
)

// Layer is a base map layer.
type Layer struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Visible bool            `json:"visible"`
	Opacity float64         `json:"opacity"`
	Source  json.RawMessage `json:"source,omitempty"`
}

// Overlay is an annotation drawn on top of the layers, such as a parcel
// boundary or a satellite tile.
type Overlay struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
}

// AssetLayers is everything stored for one asset.
type AssetLayers struct {
	AssetID   string    `json:"asset_id"`
	Layers    []Layer   `json:"layers"`
	Overlays  []Overlay `json:"overlays"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a AssetLayers) clone() AssetLayers {
	out := a
	out.Layers = append([]Layer{}, a.Layers...)
	out.Overlays = append([]Overlay{}, a.Overlays...)
	return out
}

// Store maps asset ids to their layers.
type Store struct {
	mu     sync.RWMutex
	assets map[string]AssetLayers
	now    func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{assets: make(map[string]AssetLayers), now: time.Now}
}

// Set replaces everything stored for assetID.
func (s *Store) Set(assetID string, a AssetLayers) AssetLayers {
	a.AssetID = assetID
	a = a.clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	a.UpdatedAt = s.now().UTC()
	s.assets[assetID] = a
	return a.clone()
}

// Get returns the layers for assetID.
func (s *Store) Get(assetID string) (AssetLayers, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[assetID]
	if !ok {
		return AssetLayers{}, fmt.Errorf("%w: %s", types.ErrAssetNotFound, assetID)
	}
	return a.clone(), nil
}

// Delete removes assetID. Deleting an unknown asset is not an error.
func (s *Store) Delete(assetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assets, assetID)
}

// AddOverlay inserts or replaces (by id) an overlay, creating the asset entry
// when needed.
func (s *Store) AddOverlay(assetID string, o Overlay) AssetLayers {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[assetID]
	if !ok {
		a = AssetLayers{AssetID: assetID}
	}
	a = a.clone()

	replaced := false
	for i := range a.Overlays {
		if a.Overlays[i].ID == o.ID {
			a.Overlays[i] = o
			replaced = true
			break
		}
	}
	if !replaced {
		a.Overlays = append(a.Overlays, o)
	}
	a.UpdatedAt = s.now().UTC()
	s.assets[assetID] = a
	return a.clone()
}

// RemoveOverlay deletes one overlay from assetID.
func (s *Store) RemoveOverlay(assetID, overlayID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[assetID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrAssetNotFound, assetID)
	}
	kept := make([]Overlay, 0, len(a.Overlays))
	for _, o := range a.Overlays {
		if o.ID != overlayID {
			kept = append(kept, o)
		}
	}
	if len(kept) == len(a.Overlays) {
		return fmt.Errorf("%w: %s", types.ErrOverlayNotFound, overlayID)
	}
	a.Overlays = kept
	a.UpdatedAt = s.now().UTC()
	s.assets[assetID] = a
	return nil
}

// List returns the stored asset ids in sorted order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
