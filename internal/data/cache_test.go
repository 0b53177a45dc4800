package data

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantCache_SetGet(t *testing.T) {
	cache := NewTenantCache()

	tenant := &Tenant{ID: 1, Name: "orion", Status: StatusActive}
	cache.Set("orion", tenant)

	got, ok := cache.Get("orion")
	require.True(t, ok)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "orion", got.Name)
}

func TestTenantCache_GetMissing(t *testing.T) {
	cache := NewTenantCache()

	got, ok := cache.Get("ghost")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestTenantCache_Overwrite(t *testing.T) {
	cache := NewTenantCache()

	cache.Set("orion", &Tenant{ID: 1, Name: "orion", DisplayName: "Orion"})
	cache.Set("orion", &Tenant{ID: 1, Name: "orion", DisplayName: "Orion Prime"})

	got, ok := cache.Get("orion")
	require.True(t, ok)
	assert.Equal(t, "Orion Prime", got.DisplayName)
}

func TestTenantCache_Delete(t *testing.T) {
	cache := NewTenantCache()

	cache.Set("orion", &Tenant{ID: 1, Name: "orion"})
	cache.Delete("orion")

	_, ok := cache.Get("orion")
	assert.False(t, ok)
}

func TestTenantCache_DeleteMissing(t *testing.T) {
	cache := NewTenantCache()

	// Deleting a key that was never cached must not panic.
	cache.Delete("ghost")
}

func TestTenantCache_Purge(t *testing.T) {
	cache := NewTenantCache()

	cache.Set("orion", &Tenant{ID: 1, Name: "orion"})
	cache.Set("atlas", &Tenant{ID: 2, Name: "atlas"})

	cache.Purge()

	_, ok := cache.Get("orion")
	assert.False(t, ok)
	_, ok = cache.Get("atlas")
	assert.False(t, ok)
}

func TestTenantCache_EvictsOldestAtCapacity(t *testing.T) {
	cache := NewTenantCache()

	for i := 0; i <= tenantCacheSize; i++ {
		name := fmt.Sprintf("tenant-%d", i)
		cache.Set(name, &Tenant{ID: int64(i), Name: name})
	}

	// The first entry is the least recently used and gets evicted.
	_, ok := cache.Get("tenant-0")
	assert.False(t, ok)

	got, ok := cache.Get(fmt.Sprintf("tenant-%d", tenantCacheSize))
	require.True(t, ok)
	assert.Equal(t, int64(tenantCacheSize), got.ID)
}
