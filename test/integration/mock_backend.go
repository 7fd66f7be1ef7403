package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockBackend is a configurable HTTP test server that simulates the
// security-testing backend. Commands arrive as POST /invoke/{command}; each
// command can be given a sequence of responses and every request is
// recorded for later assertion.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.RWMutex
	commands map[string]*commandConfig
	received map[string][]*RecordedRequest
}

// RecordedRequest captures the details of a request received by the mock backend.
type RecordedRequest struct {
	Command    string
	Headers    http.Header
	Body       map[string]any
	RawBody    []byte
	ReceivedAt time.Time
}

type commandConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status int
	body   any
	delay  time.Duration
	hook   func(*RecordedRequest)
}

// CommandMock is a builder for configuring the responses of one command.
type CommandMock struct {
	backend *MockBackend
	command string
}

func newMockBackend(t *testing.T) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:        t,
		commands: make(map[string]*commandConfig),
		received: make(map[string][]*RecordedRequest),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoke/{command}", mb.handleCommand)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": fmt.Sprintf("mock: no route for %s %s", r.Method, r.URL.Path),
		})
	})

	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)
	return mb
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// OnCommand returns a builder for configuring responses for the named command.
func (mb *MockBackend) OnCommand(command string) *CommandMock {
	return &CommandMock{backend: mb, command: command}
}

// RespondWith queues a response with the given status and JSON body.
func (cm *CommandMock) RespondWith(status int, body any) *CommandMock {
	cm.backend.addResponse(cm.command, &mockResponse{status: status, body: body})
	return cm
}

// RespondOK queues a success envelope carrying data.
func (cm *CommandMock) RespondOK(data any) *CommandMock {
	return cm.RespondWith(http.StatusOK, OKEnvelope(data))
}

// RespondFailure queues a {success:false} envelope with the given message.
func (cm *CommandMock) RespondFailure(message string) *CommandMock {
	return cm.RespondWith(http.StatusOK, map[string]any{"success": false, "error": message})
}

// RespondWithDelay queues a delayed response to simulate a slow backend.
func (cm *CommandMock) RespondWithDelay(delay time.Duration, status int, body any) *CommandMock {
	cm.backend.addResponse(cm.command, &mockResponse{status: status, body: body, delay: delay})
	return cm
}

// Do queues a response that runs hook before answering with status and body.
// Tests use it to publish events the way the backend would while handling
// a command.
func (cm *CommandMock) Do(hook func(*RecordedRequest), status int, body any) *CommandMock {
	cm.backend.addResponse(cm.command, &mockResponse{status: status, body: body, hook: hook})
	return cm
}

func (mb *MockBackend) addResponse(command string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.commands[command]
	if !ok {
		cfg = &commandConfig{}
		mb.commands[command] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (mb *MockBackend) handleCommand(w http.ResponseWriter, r *http.Request) {
	command := r.PathValue("command")
	rec := &RecordedRequest{
		Command:    command,
		Headers:    r.Header.Clone(),
		ReceivedAt: time.Now(),
	}
	if body, _ := io.ReadAll(r.Body); len(body) > 0 {
		rec.RawBody = body
		var parsed map[string]any
		if err := json.Unmarshal(body, &parsed); err == nil {
			rec.Body = parsed
		}
	}

	mb.mu.Lock()
	mb.received[command] = append(mb.received[command], rec)
	mb.mu.Unlock()

	resp := mb.nextResponse(command)
	if resp == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "mock: command " + command + " not configured"})
		return
	}

	if resp.delay > 0 {
		select {
		case <-time.After(resp.delay):
		case <-r.Context().Done():
			return
		}
	}
	if resp.hook != nil {
		resp.hook(rec)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	if resp.body != nil {
		_ = json.NewEncoder(w).Encode(resp.body)
	}
}

func (mb *MockBackend) nextResponse(command string) *mockResponse {
	mb.mu.RLock()
	cfg, ok := mb.commands[command]
	mb.mu.RUnlock()
	if !ok {
		return nil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	if len(cfg.responses) == 0 {
		return nil
	}
	idx := cfg.current
	if idx >= len(cfg.responses) {
		// Repeat the last response for subsequent calls.
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// Stop shuts the backend down; later calls fail to connect.
func (mb *MockBackend) Stop() {
	mb.server.Close()
}

// Calls returns how many times command was received.
func (mb *MockBackend) Calls(command string) int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.received[command])
}

// AssertCalled verifies that the command was called the expected number of times.
func (mb *MockBackend) AssertCalled(t *testing.T, command string, expected int) {
	t.Helper()
	if actual := mb.Calls(command); actual != expected {
		t.Errorf("mock: command %q called %d times, want %d", command, actual, expected)
	}
}

// LastRequest returns the last request received for command, or nil.
func (mb *MockBackend) LastRequest(command string) *RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.received[command]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// ResetCommand clears recorded requests and queued responses for one command.
func (mb *MockBackend) ResetCommand(command string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.commands, command)
	delete(mb.received, command)
}
