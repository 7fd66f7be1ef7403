package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitabwire/vigil/model"
)

var (
	callArgs     string
	callEnvelope bool
)

var callCmd = &cobra.Command{
	Use:     "call <command>",
	Short:   "Invoke a backend command through the gateway",
	GroupID: "console",
	Example: `  vigil call list_plugins
  vigil call approve_plugin --args '{"plugin_id":"p-1"}'
  vigil call stats --envelope`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var input map[string]any
		if callArgs != "" {
			if err := json.Unmarshal([]byte(callArgs), &input); err != nil {
				return fmt.Errorf("--args must be a JSON object: %w", err)
			}
		}
		return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
			return writeEnvelope(os.Stdout, rt.gateway.CallEnvelope(ctx, args[0], input), callEnvelope)
		})
	},
}

func init() {
	callCmd.Flags().StringVar(&callArgs, "args", "", "command arguments as a JSON object")
	callCmd.Flags().BoolVar(&callEnvelope, "envelope", false, "print the full success/data/error envelope")
}

// writeEnvelope prints the payload of a successful call, or the whole
// envelope when full is set. A failed call is returned as an error.
func writeEnvelope(w io.Writer, env model.Envelope, full bool) error {
	var out any = env.Data
	if full {
		out = env
	} else if len(env.Data) == 0 {
		out = nil
	}
	if full || env.Success {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Fprintln(w, string(data))
	}
	if !env.Success {
		return fmt.Errorf("%s: %s", env.Error, env.Message)
	}
	return nil
}
