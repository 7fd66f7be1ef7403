package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/vigil/internal/console"
	"github.com/pitabwire/vigil/internal/gateway"
	"github.com/pitabwire/vigil/model"
)

var prefsCmd = &cobra.Command{
	Use:     "prefs",
	Short:   "Show or change user preferences",
	GroupID: "console",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
			raw, err := rt.gateway.Call(ctx, console.CmdGetPreferences, nil)
			if err != nil {
				return err
			}
			return printPreferences(raw)
		})
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key=value>...",
	Short: "Update one or more preferences",
	Example: `  vigil prefs set theme=dark font_size=16
  vigil prefs set settings='{"editor.wrap":true}'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := parseAssignments(args)
		if err != nil {
			return err
		}
		return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
			raw, err := rt.gateway.Call(ctx, console.CmdSavePreferences, patch)
			if err != nil {
				return err
			}
			return printPreferences(raw)
		})
	},
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
}

// withRuntime builds a runtime with a quiet logger and no metrics, runs fn
// and closes it.
func withRuntime(parent context.Context, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(parent, cfg, zap.NewNop(), nil)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(cliContext(parent), rt)
}

// parseAssignments turns key=value arguments into a patch. Values that
// parse as JSON keep their type, anything else is a string.
func parseAssignments(args []string) (map[string]any, error) {
	patch := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q (want key=value)", arg)
		}
		patch[key] = parseValue(strings.TrimSpace(value))
	}
	return patch, nil
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func printPreferences(raw json.RawMessage) error {
	p, err := gateway.Decode[model.Preferences](raw)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(p)
	}
	fmt.Printf("theme:     %s\n", p.Theme)
	fmt.Printf("font_size: %d\n", p.FontSize)
	fmt.Printf("language:  %s\n", p.Language)
	fmt.Printf("ui_scale:  %g\n", p.UIScale)
	for k, v := range p.Settings {
		fmt.Printf("settings.%s: %v\n", k, v)
	}
	return nil
}
