package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/vigil/internal/gateway"
	"github.com/pitabwire/vigil/internal/invoker"
	"github.com/pitabwire/vigil/internal/prefs"
	"github.com/pitabwire/vigil/model"
)

// preferenceGateway routes the preference commands to local handlers over
// an in-memory store.
func preferenceGateway(t *testing.T) (*gateway.Gateway, *prefs.MemoryStore) {
	t.Helper()
	store := prefs.NewMemoryStore()
	reg := invoker.NewHandlerRegistry()
	RegisterPreferenceHandlers(reg, store)

	g := gateway.New(invoker.NewRegistry(invoker.NewLocalInvoker(reg)), gateway.WithCommands(PreferenceCommands(nil)))
	return g, store
}

func TestPreferences_getReturnsDefaults(t *testing.T) {
	g, _ := preferenceGateway(t)

	raw, err := g.Call(userCtx("alice"), CmdGetPreferences, nil)
	require.NoError(t, err)
	p, err := gateway.Decode[model.Preferences](raw)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPreferences(), p)
}

func TestPreferences_saveMergesPartialUpdate(t *testing.T) {
	g, store := preferenceGateway(t)
	ctx := userCtx("alice")

	raw, err := g.Call(ctx, CmdSavePreferences, map[string]any{"theme": "dark"})
	require.NoError(t, err)
	p, err := gateway.Decode[model.Preferences](raw)
	require.NoError(t, err)
	assert.Equal(t, "dark", p.Theme)
	assert.Equal(t, 14, p.FontSize, "untouched fields keep their value")

	_, err = g.Call(ctx, CmdSavePreferences, map[string]any{"font_size": 18, "settings": map[string]any{"wrap": true}})
	require.NoError(t, err)

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", stored.Theme)
	assert.Equal(t, 18, stored.FontSize)
	assert.Equal(t, true, stored.Settings["wrap"])

	other, err := store.Load(userCtx("bob"))
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPreferences(), other, "preferences are per user")
}

func TestPreferences_saveRejectsInvalidValues(t *testing.T) {
	g, store := preferenceGateway(t)
	ctx := userCtx("alice")

	_, err := g.Call(ctx, CmdSavePreferences, map[string]any{"font_size": 99})
	assert.Equal(t, model.ErrValidationError, model.ErrorCode(err))

	_, err = g.Call(ctx, CmdSavePreferences, map[string]any{"theme": 7})
	assert.Equal(t, model.ErrValidationError, model.ErrorCode(err))

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPreferences(), stored)
}

func TestMergePreferences(t *testing.T) {
	base := model.DefaultPreferences()
	base.Settings = map[string]any{"wrap": true}

	got, err := MergePreferences(base, map[string]any{"language": "fr", "unknown": 1})
	require.NoError(t, err)
	assert.Equal(t, "fr", got.Language)
	assert.Equal(t, base.Theme, got.Theme)

	got, err = MergePreferences(base, map[string]any{"settings": map[string]any{"tabs": 4}})
	require.NoError(t, err)
	assert.Equal(t, true, base.Settings["wrap"])
	assert.NotContains(t, base.Settings, "tabs", "the base settings are not modified")
	assert.Contains(t, got.Settings, "tabs")

	got, err = MergePreferences(base, nil)
	require.NoError(t, err)
	assert.Equal(t, base, got)
}

func TestPreferences_handlerRegisteredOnce(t *testing.T) {
	reg := invoker.NewHandlerRegistry()
	RegisterPreferenceHandlers(reg, prefs.NewMemoryStore())
	assert.Panics(t, func() { RegisterPreferenceHandlers(reg, prefs.NewMemoryStore()) })
	_, ok := reg.Get(CmdSavePreferences)
	assert.True(t, ok)
}

type staticCommands map[string]model.CommandDefinition

func (m staticCommands) Command(name string) (model.CommandDefinition, bool) {
	d, ok := m[name]
	return d, ok
}

func TestPreferenceCommands_overlaysDefinitions(t *testing.T) {
	next := staticCommands{
		"list_plugins":    {Name: "list_plugins", Response: model.ShapeEnvelope},
		CmdGetPreferences: {Name: CmdGetPreferences, Operation: model.OperationBinding{Type: model.BindingHTTP}},
	}
	src := PreferenceCommands(next)

	def, ok := src.Command(CmdGetPreferences)
	require.True(t, ok)
	assert.Equal(t, model.BindingLocal, def.Operation.Type)

	def, ok = src.Command("list_plugins")
	require.True(t, ok)
	assert.Equal(t, model.ShapeEnvelope, def.Response)

	_, ok = PreferenceCommands(nil).Command("list_plugins")
	assert.False(t, ok)
}
