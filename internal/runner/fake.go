package runner

import (
	"context"
	"strings"
	"sync"
)

// Fake is a scripted Runner for tests. Calls are matched against rules
// in order; the first rule whose prefix matches the joined argv wins.
// Unmatched commands succeed with empty output. Every call is recorded
// so tests can assert on the exact command shapes.
type Fake struct {
	mu    sync.Mutex
	rules []fakeRule
	Calls []FakeCall
}

// FakeCall is one recorded invocation.
type FakeCall struct {
	Dir   string
	Input string
	Argv  []string
}

type fakeRule struct {
	prefix string
	result Result
	err    error
}

// NewFake creates an empty scripted runner.
func NewFake() *Fake {
	return &Fake{}
}

// Stub registers a response for commands whose joined argv starts with
// prefix (e.g. "git merge").
func (f *Fake) Stub(prefix string, res Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{prefix: prefix, result: res})
}

// StubErr registers a launch failure for a prefix.
func (f *Fake) StubErr(prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{prefix: prefix, err: err})
}

// Run implements Runner.
func (f *Fake) Run(dir string, input string, argv ...string) (*Result, error) {
	return f.RunContext(context.Background(), dir, input, argv...)
}

// RunContext implements Runner.
func (f *Fake) RunContext(_ context.Context, dir string, input string, argv ...string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, FakeCall{Dir: dir, Input: input, Argv: append([]string(nil), argv...)})

	joined := strings.Join(argv, " ")
	for _, r := range f.rules {
		if strings.HasPrefix(joined, r.prefix) {
			if r.err != nil {
				return nil, r.err
			}
			res := r.result
			return &res, nil
		}
	}
	return &Result{}, nil
}

// CommandLines returns the joined argv of every call, for transcript
// assertions.
func (f *Fake) CommandLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		lines = append(lines, strings.Join(c.Argv, " "))
	}
	return lines
}
