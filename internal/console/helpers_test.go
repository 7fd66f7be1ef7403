package console

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pitabwire/vigil/model"
)

type call struct {
	command string
	args    map[string]any
}

type handlerFunc func(args map[string]any) (json.RawMessage, error)

// fakeCaller answers commands from a handler table and records every call.
type fakeCaller struct {
	mu       sync.Mutex
	calls    []call
	handlers map[string]handlerFunc
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{handlers: make(map[string]handlerFunc)}
}

func (f *fakeCaller) on(command string, h handlerFunc) *fakeCaller {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[command] = h
	return f
}

func (f *fakeCaller) reply(command, body string) *fakeCaller {
	return f.on(command, func(map[string]any) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	})
}

func (f *fakeCaller) fail(command string, err error) *fakeCaller {
	return f.on(command, func(map[string]any) (json.RawMessage, error) { return nil, err })
}

func (f *fakeCaller) Call(_ context.Context, command string, args map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{command: command, args: args})
	h := f.handlers[command]
	f.mu.Unlock()
	if h == nil {
		return nil, model.NewCommandFailedError(command, "no handler")
	}
	return h(args)
}

func (f *fakeCaller) count(command string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.command == command {
			n++
		}
	}
	return n
}

func (f *fakeCaller) last(t *testing.T, command string) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].command == command {
			return f.calls[i].args
		}
	}
	t.Fatalf("%s was never called", command)
	return nil
}

// recorder collects notifications.
type recorder struct {
	mu    sync.Mutex
	items []model.Notification
}

func (r *recorder) Notify(_ context.Context, n model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recorder) levels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.items))
	for i, n := range r.items {
		out[i] = n.Level
	}
	return out
}

func (r *recorder) lastMessage(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.items)
	return r.items[len(r.items)-1].Message
}

const pluginList = `{"plugins":[
	{"plugin_id":"p-1","name":"SQLi Scanner","status":"PendingReview","quality":82,"tags":["sql"]},
	{"plugin_id":"p-2","name":"XSS Probe","status":"PendingReview","quality":40,"tags":["xss"]},
	{"plugin_id":"p-3","name":"Port Sweep","status":"Approved","quality":65,"tags":["network"]}
]}`

func pluginsPage() model.PageDefinition {
	return model.PageDefinition{
		ID:    ReviewPageID,
		Title: "Plugin Review",
		DataSource: model.DataSourceDefinition{
			Command:   "list_plugins",
			ItemsPath: "plugins",
		},
		IDField:      "plugin_id",
		SearchFields: []string{"name"},
		TagField:     "tags",
		Filters: []model.FilterDefinition{
			{Field: "status", Type: model.FilterSelect, Options: []model.StaticOption{{Label: "Pending", Value: "PendingReview"}}},
			{Field: "quality", Type: model.FilterNumber},
		},
		PageSize:    2,
		DefaultSort: "name",
		RefreshOn:   []string{model.EventPluginChanged},
	}
}

func ptr[T any](v T) *T { return &v }
