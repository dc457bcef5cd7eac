package cache

import (
	"strconv"
	"strings"
)

// DimensionCache stores resolved lookup ids for one ingestion run.
type DimensionCache interface {
	Get(kind, name string, parentID int64) (int64, bool)
	Set(kind, name string, parentID, id int64)
	Len() int
}

type dimensionCache struct {
	ids Cache[string, int64]
}

// NewDimensionCache returns an empty cache. Entries never expire; the
// cache lives as long as the run that owns it. Names match exactly after
// trimming, the same way the store lookup does.
func NewDimensionCache() DimensionCache {
	return &dimensionCache{ids: New[string, int64]()}
}

func (c *dimensionCache) Get(kind, name string, parentID int64) (int64, bool) {
	return c.ids.Get(cacheKey(kind, name, strconv.FormatInt(parentID, 10)))
}

func (c *dimensionCache) Set(kind, name string, parentID, id int64) {
	c.ids.Set(cacheKey(kind, name, strconv.FormatInt(parentID, 10)), id)
}

func (c *dimensionCache) Len() int { return c.ids.Len() }

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, trimmed)
	}
	return strings.Join(values, "|")
}
