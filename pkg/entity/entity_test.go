package entity

import (
	"testing"
	"time"

	"github.com/kart-io/trackhub/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenCookie accepts writes but never reads them back, like a browser
// rejecting cookies for a public-suffix domain.
type brokenCookie struct{ *storage.Memory }

func (b *brokenCookie) Get(string) (string, bool) { return "", false }

func newTiers(t *testing.T) (*storage.Tiers, *storage.Memory, *storage.Memory) {
	t.Helper()
	cookie := storage.NewMemory()
	local := storage.NewMemory()
	return storage.NewTiers(cookie, local, nil, nil), cookie, local
}

func TestInitialize_BindsCookieTier(t *testing.T) {
	tiers, cookie, _ := newTiers(t)
	g := NewGroup(tiers, Options{}, nil)

	assert.Same(t, cookie, g.Storage())
	_, ok := cookie.Get(probeKey)
	assert.False(t, ok, "probe sentinel must be removed")
}

func TestInitialize_FallsBackToLocal(t *testing.T) {
	local := storage.NewMemory()
	tiers := storage.NewTiers(&brokenCookie{Memory: storage.NewMemory()}, local, nil, nil)

	g := NewGroup(tiers, Options{}, nil)
	assert.Same(t, local, g.Storage())
}

func TestInitialize_FallsBackToMemory(t *testing.T) {
	mem := storage.NewMemory()
	tiers := storage.NewTiers(storage.Disabled{}, storage.Disabled{}, mem, nil)
	g := NewGroup(tiers, Options{}, nil)
	assert.Same(t, mem, g.Storage())

	g.Identify("acme", map[string]any{"plan": "pro"})
	assert.Equal(t, "acme", g.ID())
	assert.Equal(t, map[string]any{"plan": "pro"}, g.Traits())
}

func TestOptions_MergeOverDefaults(t *testing.T) {
	tiers, _, _ := newTiers(t)
	g := NewGroup(tiers, Options{CookieKey: "custom_group"}, nil)

	opts := g.Options()
	assert.Equal(t, "custom_group", opts.CookieKey)
	assert.Equal(t, "ajs_group_properties", opts.LocalStorageKey)
	assert.True(t, opts.Persistent())

	g.Reset()
	assert.Equal(t, "ajs_group_id", g.Options().CookieKey)
}

func TestID_PersistWritesBothTiers(t *testing.T) {
	tiers, cookie, local := newTiers(t)
	g := NewGroup(tiers, Options{}, nil)

	g.SetID("acme")
	assert.Equal(t, "acme", g.ID())

	var v string
	require.True(t, storage.GetJSON(cookie, "ajs_group_id", &v))
	assert.Equal(t, "acme", v)
	require.True(t, storage.GetJSON(local, "ajs_group_id", &v))
	assert.Equal(t, "acme", v)
}

func TestID_CopiesForwardFromLocal(t *testing.T) {
	tiers, cookie, local := newTiers(t)
	g := NewGroup(tiers, Options{}, nil)

	storage.SetJSON(local, "ajs_group_id", "from-local")
	assert.Equal(t, "from-local", g.ID())

	var v string
	require.True(t, storage.GetJSON(cookie, "ajs_group_id", &v))
	assert.Equal(t, "from-local", v)
}

func TestID_LocalFallbackDisabled(t *testing.T) {
	tiers, _, local := newTiers(t)
	g := NewGroup(tiers, Options{LocalStorageFallbackDisabled: true}, nil)

	storage.SetJSON(local, "ajs_group_id", "from-local")
	assert.Equal(t, "", g.ID())

	g.SetID("acme")
	var v string
	require.True(t, storage.GetJSON(local, "ajs_group_id", &v))
	assert.Equal(t, "from-local", v, "local tier must not be written")
}

func TestID_NumericLegacyValue(t *testing.T) {
	tiers, cookie, _ := newTiers(t)
	g := NewGroup(tiers, Options{}, nil)

	cookie.Set("ajs_group_id", "42")
	assert.Equal(t, "42", g.ID())
}

func TestID_NotPersisted(t *testing.T) {
	tiers, cookie, local := newTiers(t)
	g := NewGroup(tiers, Options{Persist: Bool(false)}, nil)

	g.SetID("acme")
	g.SetTraits(map[string]any{"a": 1})
	assert.Equal(t, "acme", g.ID())
	assert.Equal(t, map[string]any{"a": 1}, g.Traits())
	assert.False(t, g.Save())

	assert.Zero(t, cookie.Len())
	assert.Zero(t, local.Len())

	// a fresh record on the same tiers sees nothing: it vanished on reload
	again := NewGroup(tiers, Options{Persist: Bool(false)}, nil)
	assert.Equal(t, "", again.ID())
	assert.Empty(t, again.Traits())
}

func TestTraits_CopyOnRead(t *testing.T) {
	tiers, _, _ := newTiers(t)
	g := NewGroup(tiers, Options{Persist: Bool(false)}, nil)

	in := map[string]any{"nested": map[string]any{"a": 1}}
	g.SetTraits(in)
	in["nested"].(map[string]any)["a"] = 2

	out := g.Traits()
	assert.Equal(t, 1, out["nested"].(map[string]any)["a"])
	out["x"] = true
	assert.NotContains(t, g.Traits(), "x")
}

func TestTraits_DatesRoundTrip(t *testing.T) {
	tiers, _, _ := newTiers(t)
	g := NewGroup(tiers, Options{}, nil)

	created := time.Date(2020, 5, 17, 10, 30, 0, 0, time.UTC)
	g.SetTraits(map[string]any{
		"created_at": created,
		"history":    []any{map[string]any{"at": "2019-01-02"}},
		"name":       "2019 plan",
	})

	traits := g.Traits()
	got, ok := traits["created_at"].(time.Time)
	require.True(t, ok, "created_at should be a time.Time, got %T", traits["created_at"])
	assert.True(t, created.Equal(got))

	entry := traits["history"].([]any)[0].(map[string]any)
	assert.IsType(t, time.Time{}, entry["at"])
	assert.Equal(t, "2019 plan", traits["name"])
}

func TestIdentify_MergeLaw(t *testing.T) {
	tiers, _, _ := newTiers(t)

	t.Run("same id merges", func(t *testing.T) {
		g := NewGroup(tiers, Options{}, nil)
		g.Logout()
		g.Identify("u", map[string]any{"a": float64(1)})
		g.Identify("u", map[string]any{"b": float64(2)})
		assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, g.Traits())
	})

	t.Run("different id replaces", func(t *testing.T) {
		g := NewGroup(tiers, Options{}, nil)
		g.Logout()
		g.Identify("u", map[string]any{"a": float64(1)})
		g.Identify("v", map[string]any{"b": float64(2)})
		assert.Equal(t, "v", g.ID())
		assert.Equal(t, map[string]any{"b": float64(2)}, g.Traits())
	})

	t.Run("no id merges into anonymous traits", func(t *testing.T) {
		g := NewGroup(tiers, Options{}, nil)
		g.Logout()
		g.Identify("", map[string]any{"a": float64(1)})
		g.Identify("u", map[string]any{"b": float64(2)})
		assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, g.Traits())
	})

	t.Run("empty id merges into existing traits", func(t *testing.T) {
		g := NewGroup(tiers, Options{}, nil)
		g.Logout()
		g.Identify("u", map[string]any{"a": float64(1)})
		g.Identify("", map[string]any{"b": float64(2)})
		assert.Equal(t, "u", g.ID())
		assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, g.Traits())
	})
}

func TestLogout_Idempotent(t *testing.T) {
	tiers, cookie, local := newTiers(t)
	g := NewGroup(tiers, Options{}, nil)
	g.Identify("acme", map[string]any{"plan": "pro"})

	for i := 0; i < 2; i++ {
		g.Logout()
		assert.Equal(t, "", g.ID())
		assert.Equal(t, map[string]any{}, g.Traits())
	}

	_, ok := local.Get("ajs_group_id")
	assert.False(t, ok)
	_, ok = cookie.Get("ajs_group_properties")
	assert.False(t, ok)
}

func TestLoad_CopiesLocalIntoBoundTier(t *testing.T) {
	tiers, cookie, local := newTiers(t)
	storage.SetJSON(local, "ajs_group_id", "acme")

	g := NewGroup(tiers, Options{}, nil)
	g.Load()

	raw, ok := cookie.Get("ajs_group_id")
	require.True(t, ok)
	assert.Equal(t, `"acme"`, raw)
}

func TestParseISODate(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"2020-01-01", true},
		{"2020-01-01T10:00:00Z", true},
		{"2020-01-01T10:00:00.123+02:00", true},
		{"2020-01-01T10:00:00", true},
		{"2020-13-45", false},
		{"hello", false},
		{"12345", false},
	}
	for _, tt := range tests {
		_, ok := parseISODate(tt.in)
		assert.Equal(t, tt.want, ok, tt.in)
	}
}
