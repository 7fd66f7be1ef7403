package prefs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/vigil/internal/config"
	"github.com/pitabwire/vigil/internal/observability"
	"github.com/pitabwire/vigil/model"
)

func darkPrefs() model.Preferences {
	p := model.DefaultPreferences()
	p.Theme = model.ThemeDark
	p.FontSize = 16
	p.Settings = map[string]any{"sidebar": "collapsed"}
	return p
}

func userCtx(user string) context.Context {
	return model.WithRequestContext(context.Background(), &model.RequestContext{UserID: user})
}

func TestMemoryStore_defaultsAndRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPreferences(), got)

	require.NoError(t, s.Save(ctx, darkPrefs()))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, darkPrefs(), got)
}

func TestMemoryStore_perUser(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Save(userCtx("alice"), darkPrefs()))

	got, err := s.Load(userCtx("bob"))
	require.NoError(t, err)
	assert.Equal(t, model.ThemeSystem, got.Theme)
}

func TestMemoryStore_loadReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Save(context.Background(), darkPrefs()))

	got, _ := s.Load(context.Background())
	got.Settings["sidebar"] = "open"

	again, _ := s.Load(context.Background())
	assert.Equal(t, "collapsed", again.Settings["sidebar"])
}

func TestMemoryStore_rejectsInvalid(t *testing.T) {
	s := NewMemoryStore()
	bad := model.DefaultPreferences()
	bad.Theme = "neon"
	bad.FontSize = 4

	err := s.Save(context.Background(), bad)
	require.Error(t, err)
	assert.Equal(t, model.ErrValidationError, model.ErrorCode(err))

	got, _ := s.Load(context.Background())
	assert.Equal(t, model.DefaultPreferences(), got)
}

func TestSave_metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewMemoryStore(WithMetrics(observability.InitMetrics(reg)))

	require.NoError(t, s.Save(context.Background(), darkPrefs()))
	require.Error(t, s.Save(context.Background(), model.Preferences{}))

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "vigil_preference_saves_total"))
}

func TestFileStore_missingFileGivesDefaults(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "vigil", "preferences.toml"))
	defer s.Close()

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPreferences(), got)
}

func TestFileStore_roundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	s := NewFileStore(path)
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), darkPrefs()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Regexp(t, `theme = .dark.`, string(data))

	got, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, darkPrefs(), got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".preferences-", "temp file left behind")
	}
}

func TestFileStore_sharedAcrossUsers(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "preferences.toml"))
	defer s.Close()

	require.NoError(t, s.Save(userCtx("alice"), darkPrefs()))

	got, err := s.Load(userCtx("bob"))
	require.NoError(t, err)
	assert.Equal(t, darkPrefs(), got)
}

func TestFileStore_partialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	require.NoError(t, os.WriteFile(path, []byte("theme = \"light\"\n"), 0o600))

	got, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	want := model.DefaultPreferences()
	want.Theme = model.ThemeLight
	assert.Equal(t, want, got)
}

func TestFileStore_corruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	require.NoError(t, os.WriteFile(path, []byte("theme = [unterminated"), 0o600))

	_, err := NewFileStore(path).Load(context.Background())
	assert.ErrorContains(t, err, "parsing")
}

func TestFileStore_invalidSaveLeavesFileUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	s := NewFileStore(path)
	require.NoError(t, s.Save(context.Background(), darkPrefs()))
	before, _ := os.ReadFile(path)

	bad := darkPrefs()
	bad.UIScale = 9
	err := s.Save(context.Background(), bad)
	assert.Equal(t, model.ErrValidationError, model.ErrorCode(err))

	after, _ := os.ReadFile(path)
	assert.Equal(t, before, after)
}

func TestFileStore_concurrentSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	s := NewFileStore(path)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(size int) {
			defer wg.Done()
			p := model.DefaultPreferences()
			p.FontSize = size
			assert.NoError(t, s.Save(context.Background(), p))
			_, err := s.Load(context.Background())
			assert.NoError(t, err)
		}(10 + i)
	}
	wg.Wait()

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.FontSize, 10)
	assert.Less(t, got.FontSize, 18)
}

func TestFileStore_watchSeesExternalChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	s := NewFileStore(path)
	require.NoError(t, s.Save(context.Background(), model.DefaultPreferences()))

	changes := make(chan model.Preferences, 8)
	stop, err := s.Watch(func(p model.Preferences) { changes <- p })
	require.NoError(t, err)
	defer stop()

	other := NewFileStore(path)
	require.NoError(t, other.Save(context.Background(), darkPrefs()))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case p := <-changes:
			if p.Theme == model.ThemeDark {
				require.NoError(t, stop())
				return
			}
		case <-deadline:
			t.Fatal("watcher did not report the change")
		}
	}
}

func TestFileStore_watchSkipsInvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	s := NewFileStore(path)

	changes := make(chan model.Preferences, 8)
	stop, err := s.Watch(func(p model.Preferences) { changes <- p })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("font_size = 99\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "unrelated.toml"), []byte("x = 1"), 0o600))

	select {
	case p := <-changes:
		t.Fatalf("unexpected change %+v", p)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOpen_drivers(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.PreferencesConfig{Driver: config.PrefsMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.PreferencesConfig{Driver: config.PrefsFile, Path: filepath.Join(t.TempDir(), "p.toml")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	t.Setenv("VIGIL_TEST_UNSET_DSN", "")
	_, err = Open(ctx, config.PreferencesConfig{Driver: config.PrefsPostgres, DSNEnv: "VIGIL_TEST_UNSET_DSN"})
	assert.ErrorContains(t, err, "VIGIL_TEST_UNSET_DSN")

	_, err = Open(ctx, config.PreferencesConfig{Driver: "sqlite"})
	assert.ErrorContains(t, err, "unknown driver")
}

// TestPgStore runs against a real database when VIGIL_TEST_DATABASE_URL
// is set.
func TestPgStore(t *testing.T) {
	dsn := os.Getenv("VIGIL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("VIGIL_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPgStore(ctx, dsn, 2)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.HealthCheck(ctx))

	user := userCtx("pg-test-" + time.Now().Format("150405.000000"))

	got, err := s.Load(user)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPreferences(), got)

	require.NoError(t, s.Save(user, darkPrefs()))
	got, err = s.Load(user)
	require.NoError(t, err)
	assert.Equal(t, darkPrefs(), got)

	updated := darkPrefs()
	updated.Theme = model.ThemeLight
	updated.Settings = nil
	require.NoError(t, s.Save(user, updated))
	got, err = s.Load(user)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	assert.Equal(t, model.ErrValidationError, model.ErrorCode(s.Save(user, model.Preferences{})))
}
