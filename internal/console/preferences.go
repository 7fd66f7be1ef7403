package console

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pitabwire/vigil/internal/gateway"
	"github.com/pitabwire/vigil/internal/invoker"
	"github.com/pitabwire/vigil/internal/prefs"
	"github.com/pitabwire/vigil/model"
)

// Local commands answering from the preference store.
const (
	CmdGetPreferences  = "get_preferences"
	CmdSavePreferences = "save_preferences"
)

// RegisterPreferenceHandlers exposes store as the local get_preferences
// and save_preferences commands, so preferences flow through the gateway
// like any backend command.
func RegisterPreferenceHandlers(reg *invoker.HandlerRegistry, store prefs.Store) {
	reg.Register(CmdGetPreferences, invoker.JSONHandler(func(ctx context.Context, _ *model.RequestContext, _ map[string]any) (any, error) {
		return store.Load(ctx)
	}))
	reg.Register(CmdSavePreferences, invoker.JSONHandler(func(ctx context.Context, _ *model.RequestContext, args map[string]any) (any, error) {
		current, err := store.Load(ctx)
		if err != nil {
			return nil, err
		}
		updated, err := MergePreferences(current, args)
		if err != nil {
			return nil, err
		}
		if err := store.Save(ctx, updated); err != nil {
			return nil, err
		}
		return updated, nil
	}))
}

// PreferenceCommands binds the preference commands to the local handlers
// registered by RegisterPreferenceHandlers and defers every other command to
// next, which may be nil.
func PreferenceCommands(next gateway.CommandSource) gateway.CommandSource {
	return preferenceCommands{next: next}
}

type preferenceCommands struct {
	next gateway.CommandSource
}

func (p preferenceCommands) Command(name string) (model.CommandDefinition, bool) {
	if name == CmdGetPreferences || name == CmdSavePreferences {
		return model.CommandDefinition{
			Name:      name,
			Operation: model.OperationBinding{Type: model.BindingLocal, Handler: name},
			Response:  model.ShapeBare,
		}, true
	}
	if p.next == nil {
		return model.CommandDefinition{}, false
	}
	return p.next.Command(name)
}

// MergePreferences overlays the fields present in patch onto base. Unknown
// fields are ignored; wrongly typed values are a VALIDATION_ERROR.
func MergePreferences(base model.Preferences, patch map[string]any) (model.Preferences, error) {
	if len(patch) == 0 {
		return base, nil
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return base, fmt.Errorf("console: encoding preferences patch: %w", err)
	}
	out := base
	if base.Settings != nil {
		out.Settings = make(map[string]any, len(base.Settings))
		for k, v := range base.Settings {
			out.Settings[k] = v
		}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return base, model.NewValidationError([]model.FieldError{{
			Field:   "preferences",
			Code:    "INVALID_TYPE",
			Message: err.Error(),
		}})
	}
	return out, nil
}
