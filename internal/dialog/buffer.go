package dialog

import "sync"

// TextBuffer is the capability the dialog needs from an editor widget. Any
// editor that can get and set its content and toggle read-only mode fits.
type TextBuffer interface {
	Content() string
	SetContent(content string)
	SetEditable(editable bool)
	Editable() bool
}

// MemoryBuffer is a TextBuffer held in memory. It is what the HTTP surface
// and the CLI edit against.
type MemoryBuffer struct {
	mu       sync.RWMutex
	content  string
	editable bool
}

// NewMemoryBuffer returns an empty read-only buffer.
func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{}
}

func (b *MemoryBuffer) Content() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.content
}

func (b *MemoryBuffer) SetContent(content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.content = content
}

func (b *MemoryBuffer) SetEditable(editable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.editable = editable
}

func (b *MemoryBuffer) Editable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.editable
}
