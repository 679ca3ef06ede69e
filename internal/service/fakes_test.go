package service_test

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/domain/conversation"
	"github.com/Strob0t/prdforge/internal/domain/provider"
	"github.com/Strob0t/prdforge/internal/port/audit"
)

// --- Provider fake ---

type fakeProvider struct {
	cand provider.Candidate

	mu    sync.Mutex
	calls int
	convs [][]conversation.Message
	fn    func(ctx context.Context, conv []conversation.Message, jsonRequested bool) (string, error)
}

func newFakeProvider(name string, kind provider.Kind, fn func(context.Context, []conversation.Message, bool) (string, error)) *fakeProvider {
	return &fakeProvider{
		cand: provider.Candidate{Name: name, Kind: kind, Model: name + "-model", SupportsJSON: true},
		fn:   fn,
	}
}

func (f *fakeProvider) Candidate() provider.Candidate { return f.cand }

func (f *fakeProvider) Generate(ctx context.Context, conv []conversation.Message, jsonRequested bool) (string, error) {
	f.mu.Lock()
	f.calls++
	f.convs = append(f.convs, conv)
	f.mu.Unlock()
	return f.fn(ctx, conv, jsonRequested)
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func answer(text string) func(context.Context, []conversation.Message, bool) (string, error) {
	return func(context.Context, []conversation.Message, bool) (string, error) { return text, nil }
}

func failWith(kind provider.ErrorKind) func(context.Context, []conversation.Message, bool) (string, error) {
	return func(context.Context, []conversation.Message, bool) (string, error) {
		return "", provider.NewError("", kind, errString(string(kind)))
	}
}

type errString string

func (e errString) Error() string { return string(e) }

// --- Log recorder ---

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newRecordingLogger() (*slog.Logger, *recordingHandler) {
	h := &recordingHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
	return slog.New(h), h
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

// count returns the number of records at level with message msg.
func (h *recordingHandler) count(level slog.Level, msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range *h.records {
		if r.Level == level && r.Message == msg {
			n++
		}
	}
	return n
}

// attrs returns the string attributes of every record with message msg.
func (h *recordingHandler) attrs(msg string) []map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []map[string]string
	for _, r := range *h.records {
		if r.Message != msg {
			continue
		}
		m := make(map[string]string)
		r.Attrs(func(a slog.Attr) bool {
			m[a.Key] = a.Value.String()
			return true
		})
		out = append(out, m)
	}
	return out
}

// --- Broadcaster fake ---

type event struct {
	Type    string
	Payload any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []event
}

func (b *fakeBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{Type: eventType, Payload: payload})
}

func (b *fakeBroadcaster) ofType(t string) []event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// --- Resolver fake ---

type fakeResolver struct {
	mu sync.Mutex

	avail    clarify.Availability
	availErr error

	codebase    *clarify.Response
	codebaseErr error
	mockups     *clarify.Response
	mockupsErr  error

	availCalls    int
	codebaseCalls int
	mockupCalls   int
}

func (r *fakeResolver) HasContext(_ context.Context, requestID string) (clarify.Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availCalls++
	a := r.avail
	a.RequestID = requestID
	return a, r.availErr
}

func (r *fakeResolver) QueryCodebaseContext(context.Context, string, string, string) (*clarify.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codebaseCalls++
	return r.codebase, r.codebaseErr
}

func (r *fakeResolver) QueryMockupContext(context.Context, string, string) (*clarify.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mockupCalls++
	return r.mockups, r.mockupsErr
}

// --- Prompter fake ---

type fakePrompter struct {
	mu      sync.Mutex
	asked   []string
	answers map[string]string
	def     string
	err     error
}

func (p *fakePrompter) Ask(_ context.Context, question string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, question)
	if p.err != nil {
		return "", p.err
	}
	if a, ok := p.answers[question]; ok {
		return a, nil
	}
	return p.def, nil
}

func (p *fakePrompter) Asked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.asked...)
}

// --- Audit fake ---

type fakeAudit struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
}

func (a *fakeAudit) RecordGeneration(_ context.Context, rec audit.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return a.err
}
