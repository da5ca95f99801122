package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeySignatures(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "files:7:video:report:0:20", FilesKey(7, "video", "report", 0, 20))
	assert.Equal(t, "files:7:all:none:10:20", FilesKey(7, "", "", 10, 20))
	assert.Equal(t, "files:7:recent:5", RecentKey(7, 5))
	assert.Equal(t, "categories:7", CategoriesKey(7))
}

// A nil cache must degrade to pass-through so tests and redis-less
// deployments skip caching instead of crashing.
func TestNilCacheIsPassThrough(t *testing.T) {
	t.Parallel()

	var c *Cache
	var out []string
	assert.False(t, c.GetJSON(context.Background(), "files:1:all:none:0:20", &out))
	c.SetFiles(context.Background(), "files:1:all:none:0:20", []string{"x"})
	c.SetCategories(context.Background(), "categories:1", []string{"x"})
	c.InvalidateOwner(context.Background(), 1)
}
