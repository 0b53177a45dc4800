// Package data provides data access layer implementations.
package data

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// tenantCacheSize bounds the number of cached tenant rows.
	tenantCacheSize = 1024
	// TTLTenant is the TTL for cached tenant rows (5 minutes)
	TTLTenant = 5 * time.Minute
)

// TenantCache caches tenant rows in-process. Entries expire after TTLTenant
// and every write path invalidates the affected name, so a stale row lives
// at most one TTL on other instances.
type TenantCache interface {
	// Get returns the cached row for name, if present and unexpired.
	Get(name string) (*Tenant, bool)

	// Set stores the row under its name.
	Set(name string, tenant *Tenant)

	// Delete drops the row for name.
	Delete(name string)

	// Purge drops every entry.
	Purge()
}

// lruTenantCache is the expirable-LRU implementation of TenantCache.
type lruTenantCache struct {
	lru *expirable.LRU[string, *Tenant]
}

// NewTenantCache creates the tenant row cache.
func NewTenantCache() TenantCache {
	return &lruTenantCache{
		lru: expirable.NewLRU[string, *Tenant](tenantCacheSize, nil, TTLTenant),
	}
}

// Get returns the cached row for name.
func (c *lruTenantCache) Get(name string) (*Tenant, bool) {
	return c.lru.Get(name)
}

// Set stores the row under its name.
func (c *lruTenantCache) Set(name string, tenant *Tenant) {
	c.lru.Add(name, tenant)
}

// Delete drops the row for name.
func (c *lruTenantCache) Delete(name string) {
	c.lru.Remove(name)
}

// Purge drops every entry.
func (c *lruTenantCache) Purge() {
	c.lru.Purge()
}
