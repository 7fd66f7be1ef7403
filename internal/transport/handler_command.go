package transport

import (
	"context"
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/vigil/internal/console"
	"github.com/pitabwire/vigil/internal/events"
	"github.com/pitabwire/vigil/internal/gateway"
	"github.com/pitabwire/vigil/model"
)

// StreamIDArg is the argument through which a streaming command learns the
// id its delta/final/error events must carry.
const StreamIDArg = "stream_id"

type commandRequest struct {
	Args map[string]any `json:"args"`
}

// handleCommand passes a command straight through the gateway. It serves
// the backend calls the console has no dedicated endpoint for.
func handleCommand(caller gateway.Caller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req commandRequest
		if err := decodeBody(r, &req, true); err != nil {
			WriteError(w, r, err)
			return
		}
		data, err := caller.Call(r.Context(), chi.URLParam(r, "command"), req.Args)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteRaw(w, http.StatusOK, data)
	}
}

// handleStream starts a streaming command and waits for its result. The
// command receives a fresh stream id in its arguments.
func handleStream(caller gateway.Caller, awaiter *events.Awaiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req commandRequest
		if err := decodeBody(r, &req, true); err != nil {
			WriteError(w, r, err)
			return
		}
		command := chi.URLParam(r, "command")

		res, err := awaiter.Await(r.Context(), command, func(ctx context.Context, streamID string) error {
			args := make(map[string]any, len(req.Args)+1)
			maps.Copy(args, req.Args)
			args[StreamIDArg] = streamID
			_, err := caller.Call(ctx, command, args)
			return err
		})
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handleGetPreferences(caller gateway.Caller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := caller.Call(r.Context(), console.CmdGetPreferences, nil)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteRaw(w, http.StatusOK, data)
	}
}

// handleSavePreferences applies a partial update; fields left out keep
// their stored value.
func handleSavePreferences(caller gateway.Caller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]any
		if err := decodeBody(r, &patch, false); err != nil {
			WriteError(w, r, err)
			return
		}
		if len(patch) == 0 {
			WriteError(w, r, model.NewBadRequestError("no preference fields given"))
			return
		}
		data, err := caller.Call(r.Context(), console.CmdSavePreferences, patch)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteRaw(w, http.StatusOK, data)
	}
}

func handleNotifications(inbox *console.Inbox) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"notifications": inbox.Drain()})
	}
}
