// Package dialog implements the lifecycle of a modal editor: a read-only view
// of some content that can be switched into edit mode, saved through an
// injected function or cancelled back to the exact content it was opened
// with.
package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pitabwire/vigil/model"
)

// State is the lifecycle state of a dialog.
type State int

const (
	Closed State = iota
	ReadOnly
	Editing
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case ReadOnly:
		return "read_only"
	case Editing:
		return "editing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SaveFunc persists content under key. For a dialog opened in create mode
// key is empty and the function returns the key of the created record.
type SaveFunc func(ctx context.Context, key, content string) (string, error)

// Validator checks content locally before any save is attempted.
type Validator func(content string) error

// Option configures a Dialog.
type Option func(*Dialog)

// WithValidator adds a local validator run before every save.
func WithValidator(v Validator) Option {
	return func(d *Dialog) { d.validators = append(d.validators, v) }
}

// WithTransitionHook registers a function called after every state change.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(d *Dialog) { d.onTransition = fn }
}

// Dialog is the modal state machine. It is safe for concurrent use.
type Dialog struct {
	mu           sync.Mutex
	buf          TextBuffer
	save         SaveFunc
	validators   []Validator
	onTransition func(from, to State)

	state    State
	key      string
	pristine string
	create   bool
	saving   bool
	gen      uint64
	lastErr  error
}

// New creates a closed dialog editing buf and persisting through save.
func New(buf TextBuffer, save SaveFunc, opts ...Option) *Dialog {
	d := &Dialog{buf: buf, save: save}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// View is a point-in-time snapshot of the dialog.
type View struct {
	State   string `json:"state"`
	Key     string `json:"key,omitempty"`
	Content string `json:"content"`
	Create  bool   `json:"create,omitempty"`
	Dirty   bool   `json:"dirty"`
	Saving  bool   `json:"saving,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Open shows content read-only and records it as the pristine snapshot.
func (d *Dialog) Open(key, content string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Closed {
		return model.NewInvalidTransitionError("dialog is already open")
	}
	d.key, d.pristine, d.create, d.lastErr = key, content, false, nil
	d.gen++
	d.buf.SetContent(content)
	d.transition(ReadOnly)
	return nil
}

// OpenNew opens the dialog directly in edit mode with template content,
// for creating a new record.
func (d *Dialog) OpenNew(template string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Closed {
		return model.NewInvalidTransitionError("dialog is already open")
	}
	d.key, d.pristine, d.create, d.lastErr = "", template, true, nil
	d.gen++
	d.buf.SetContent(template)
	d.transition(Editing)
	return nil
}

// EnableEdit switches an open read-only dialog into edit mode.
func (d *Dialog) EnableEdit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != ReadOnly {
		return model.NewInvalidTransitionError(fmt.Sprintf("cannot edit from state %s", d.state))
	}
	d.transition(Editing)
	return nil
}

// SetContent replaces the buffer content. Only allowed while editing.
func (d *Dialog) SetContent(content string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Editing || d.saving {
		return model.NewInvalidTransitionError("dialog is not editable")
	}
	d.buf.SetContent(content)
	return nil
}

// CancelEdit discards edits and restores the pristine content. A dialog in
// create mode has nothing to return to and is closed instead.
func (d *Dialog) CancelEdit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Editing || d.saving {
		return model.NewInvalidTransitionError(fmt.Sprintf("cannot cancel from state %s", d.state))
	}
	d.lastErr = nil
	if d.create {
		d.reset()
		return nil
	}
	d.buf.SetContent(d.pristine)
	d.transition(ReadOnly)
	return nil
}

// Save validates the buffer and persists it. On success the saved content
// becomes the new snapshot and the dialog returns to read-only. On failure
// the dialog stays in edit mode with the error recorded.
func (d *Dialog) Save(ctx context.Context) error {
	d.mu.Lock()
	if d.state != Editing || d.saving {
		d.mu.Unlock()
		return model.NewInvalidTransitionError(fmt.Sprintf("cannot save from state %s", d.state))
	}
	content := d.buf.Content()
	for _, v := range d.validators {
		if err := v(content); err != nil {
			d.lastErr = err
			d.mu.Unlock()
			return err
		}
	}
	key, gen := d.key, d.gen
	d.saving = true
	d.mu.Unlock()

	newKey, err := d.save(ctx, key, content)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != gen {
		// Closed (and possibly reopened) while the save was in flight.
		return err
	}
	d.saving = false
	if err != nil {
		d.lastErr = err
		return err
	}
	if newKey != "" {
		d.key = newKey
	}
	d.pristine = content
	d.create = false
	d.lastErr = nil
	d.transition(ReadOnly)
	return nil
}

// Close hides the dialog from any state, discarding unsaved edits.
func (d *Dialog) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Closed {
		return
	}
	d.reset()
}

// State returns the current state.
func (d *Dialog) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastError returns the error of the last failed save, if any.
func (d *Dialog) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Dirty reports whether the buffer differs from the snapshot.
func (d *Dialog) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state != Closed && d.buf.Content() != d.pristine
}

// Snapshot returns the current view of the dialog.
func (d *Dialog) Snapshot() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := View{State: d.state.String(), Key: d.key, Create: d.create, Saving: d.saving}
	if d.state != Closed {
		v.Content = d.buf.Content()
		v.Dirty = v.Content != d.pristine
	}
	if d.lastErr != nil {
		v.Error = d.lastErr.Error()
	}
	return v
}

func (d *Dialog) reset() {
	d.key, d.pristine, d.create, d.saving, d.lastErr = "", "", false, false, nil
	d.gen++
	d.buf.SetContent("")
	d.transition(Closed)
}

func (d *Dialog) transition(to State) {
	from := d.state
	d.state = to
	d.buf.SetEditable(to == Editing)
	if d.onTransition != nil && from != to {
		d.onTransition(from, to)
	}
}

// JSONValidator rejects content that is not well-formed JSON.
func JSONValidator(content string) error {
	if json.Valid([]byte(content)) {
		return nil
	}
	return model.NewValidationError([]model.FieldError{{
		Field:   "content",
		Code:    "INVALID_JSON",
		Message: "content is not valid JSON",
	}})
}
