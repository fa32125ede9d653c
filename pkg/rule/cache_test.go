package rule

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	lib, err := Load(LoadOptions{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rules.mp")
	require.NoError(t, SaveCache(path, lib))

	loaded, err := LoadCache(path)
	require.NoError(t, err)

	// 往返后等价：同一组(技术, 维度, 键, 原始模式, 关联边)
	require.Len(t, loaded.Technologies, len(lib.Technologies))
	for name, tech := range lib.Technologies {
		got, ok := loaded.Technologies[name]
		require.True(t, ok, "缓存缺失技术 %s", name)
		assert.Equal(t, tech.URL, got.URL)
		assert.Equal(t, tech.HTML, got.HTML)
		assert.Equal(t, tech.Scripts, got.Scripts)
		assert.Equal(t, tech.Headers, got.Headers)
		assert.Equal(t, tech.Cookies, got.Cookies)
		assert.Equal(t, tech.Meta, got.Meta)
		assert.Equal(t, tech.Implies, got.Implies)
		assert.Equal(t, tech.Requires, got.Requires)
		assert.Equal(t, tech.Excludes, got.Excludes)
	}
	assert.Equal(t, lib.Categories, loaded.Categories)
}

func TestLoadPrefersFreshCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.mp")

	lib := NewLibrary()
	lib.Technologies["OnlyInCache"] = &TechRule{Name: "OnlyInCache", HTML: []string{"marker"}}
	require.NoError(t, SaveCache(path, lib))

	loaded, err := Load(LoadOptions{CachePath: path})
	require.NoError(t, err)
	assert.Contains(t, loaded.Technologies, "OnlyInCache")
	// 命中缓存时不再合并内嵌库
	assert.NotContains(t, loaded.Technologies, "nginx")
}

func TestLoadCorruptCacheFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.mp")
	require.NoError(t, os.WriteFile(path, []byte("not msgpack"), 0o644))

	loaded, err := Load(LoadOptions{CachePath: path})
	require.NoError(t, err)
	assert.Contains(t, loaded.Technologies, "nginx")
}

func TestLoadCacheMissing(t *testing.T) {
	_, err := LoadCache(filepath.Join(t.TempDir(), "absent.mp"))
	assert.Error(t, err)
}
