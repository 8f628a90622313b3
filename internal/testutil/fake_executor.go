// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package testutil

import (
	"context"
	"strings"
	"sync"
)

// FakeExecutor records every command it is asked to run instead of running
// it, so package tests can assert exact command sequences without a kernel.
// Responses can be scripted per command (exact match) or per prefix, with
// exact match taking priority; unscripted commands succeed with empty
// output, matching idempotent delete-if-exists call sites.
type FakeExecutor struct {
	mu       sync.Mutex
	Commands []string

	exact    map[string]FakeResult
	prefixes []prefixResult
	funcs    []prefixFunc
}

type prefixFunc struct {
	prefix string
	fn     func(command string) FakeResult
}

// FakeResult is the scripted outcome for a command.
type FakeResult struct {
	ExitCode int
	Output   string
	Err      error
}

type prefixResult struct {
	prefix string
	result FakeResult
}

// NewFakeExecutor returns an empty FakeExecutor.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{exact: make(map[string]FakeResult)}
}

// ScriptExact sets the result returned for an exact command string.
func (f *FakeExecutor) ScriptExact(command string, result FakeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exact[command] = result
}

// ScriptPrefix sets the result returned for any command starting with prefix.
// Prefixes are checked in the order they were added; the first match wins.
func (f *FakeExecutor) ScriptPrefix(prefix string, result FakeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes = append(f.prefixes, prefixResult{prefix: prefix, result: result})
}

// ScriptFunc sets a callback invoked for each command starting with prefix,
// for responses that must vary across successive calls (e.g. a rule listing
// that changes after a mutation). Checked after exact and before static
// prefixes.
func (f *FakeExecutor) ScriptFunc(prefix string, fn func(command string) FakeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funcs = append(f.funcs, prefixFunc{prefix: prefix, fn: fn})
}

// Run implements shellexec.Executor.
func (f *FakeExecutor) Run(ctx context.Context, command string) (int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Commands = append(f.Commands, command)

	if r, ok := f.exact[command]; ok {
		return r.ExitCode, r.Output, r.Err
	}
	for _, p := range f.funcs {
		if strings.HasPrefix(command, p.prefix) {
			r := p.fn(command)
			return r.ExitCode, r.Output, r.Err
		}
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(command, p.prefix) {
			return p.result.ExitCode, p.result.Output, p.result.Err
		}
	}
	return 0, "", nil
}

// Reset clears recorded commands but keeps scripted responses.
func (f *FakeExecutor) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = nil
}

// CommandsContaining returns the recorded commands containing substr, in order.
func (f *FakeExecutor) CommandsContaining(substr string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Commands {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}
