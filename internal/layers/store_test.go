package layers

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/policydesk/internal/types"
)

func fixedStore() *Store {
	s := NewStore()
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestStore_SetGetDelete(t *testing.T) {
	s := fixedStore()

	_, err := s.Get("asset-1")
	assert.ErrorIs(t, err, types.ErrAssetNotFound)

	saved := s.Set("asset-1", AssetLayers{
		AssetID: "ignored",
		Layers:  []Layer{{ID: "sat", Name: "Satellite", Type: "raster", Visible: true, Opacity: 0.8}},
	})
	assert.Equal(t, "asset-1", saved.AssetID)
	assert.False(t, saved.UpdatedAt.IsZero())

	got, err := s.Get("asset-1")
	require.NoError(t, err)
	assert.Equal(t, saved, got)

	s.Delete("asset-1")
	s.Delete("asset-1")
	_, err = s.Get("asset-1")
	assert.ErrorIs(t, err, types.ErrAssetNotFound)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := fixedStore()
	s.Set("a", AssetLayers{Layers: []Layer{{ID: "l1"}}})

	got, err := s.Get("a")
	require.NoError(t, err)
	got.Layers[0].ID = "mutated"

	again, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "l1", again.Layers[0].ID)
}

func TestStore_Overlays(t *testing.T) {
	s := fixedStore()

	a := s.AddOverlay("farm-7", Overlay{ID: "o1", Name: "Boundary", Kind: "polygon"})
	assert.Len(t, a.Overlays, 1)

	a = s.AddOverlay("farm-7", Overlay{ID: "o2", Name: "NDVI", Kind: "tile"})
	assert.Len(t, a.Overlays, 2)

	a = s.AddOverlay("farm-7", Overlay{ID: "o1", Name: "Boundary v2", Kind: "polygon"})
	require.Len(t, a.Overlays, 2)
	assert.Equal(t, "Boundary v2", a.Overlays[0].Name)

	require.NoError(t, s.RemoveOverlay("farm-7", "o1"))
	got, err := s.Get("farm-7")
	require.NoError(t, err)
	require.Len(t, got.Overlays, 1)
	assert.Equal(t, "o2", got.Overlays[0].ID)

	assert.ErrorIs(t, s.RemoveOverlay("farm-7", "o1"), types.ErrOverlayNotFound)
	assert.ErrorIs(t, s.RemoveOverlay("nope", "o1"), types.ErrAssetNotFound)
}

func TestStore_List(t *testing.T) {
	s := fixedStore()
	s.Set("b", AssetLayers{})
	s.Set("a", AssetLayers{})
	s.AddOverlay("c", Overlay{ID: "x"})
	assert.Equal(t, []string{"a", "b", "c"}, s.List())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("o%d", i)
			s.AddOverlay("shared", Overlay{ID: id})
			_, _ = s.Get("shared")
			_ = s.List()
		}(i)
	}
	wg.Wait()

	got, err := s.Get("shared")
	require.NoError(t, err)
	assert.Len(t, got.Overlays, 20)
}
