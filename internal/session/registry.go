// Package session manages lazily acquired, memoized authentication sessions
// per brokerage target. Acquisition runs at most once per target per process
// lifetime; a failed or credential-less acquisition is memoized as
// unavailable rather than surfaced as an error.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tradecast/internal/util"
)

// Handle is a live authenticated session for one target. Token carries the
// broker-specific session object; the registry treats it as opaque.
type Handle struct {
	Target     string
	Token      any
	AcquiredAt time.Time
}

// AcquireFunc performs a target's login routine. Returning (nil, nil) means
// the target is unavailable (missing credentials or disabled), which is a
// legitimate cached terminal state, not an error.
type AcquireFunc func(ctx context.Context, r *Registry) (*Handle, error)

// Prompter resolves a blocking human challenge (2FA code, CAPTCHA) raised
// mid-acquisition. The UI layer completes it; acquisition goroutines block in
// Prompt until then.
type Prompter interface {
	Prompt(ctx context.Context, target, challenge string) (string, error)
}

// PromptFunc adapts a function to the Prompter interface.
type PromptFunc func(ctx context.Context, target, challenge string) (string, error)

// Prompt calls f.
func (f PromptFunc) Prompt(ctx context.Context, target, challenge string) (string, error) {
	return f(ctx, target, challenge)
}

type entryState int

const (
	stateUninitialized entryState = iota
	stateAvailable
	stateUnavailable
)

// entry serializes acquisition for one target.
type entry struct {
	mu     sync.Mutex
	state  entryState
	handle *Handle
}

// Registry memoizes per-target sessions behind per-target locks. Concurrent
// callers for the same uninitialized target block on the lock while the first
// caller runs the acquisition routine; everyone else receives the memoized
// result without re-running it.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*entry
	acquirers map[string]AcquireFunc

	httpClient    *http.Client
	prompter      Prompter
	retryAttempts int
	retryBaseWait time.Duration
	log           *slog.Logger
}

// NewRegistry creates an empty Registry. The shared HTTP client outlives
// Cleanup so pooled connections are reused across batch runs.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		entries:   make(map[string]*entry),
		acquirers: make(map[string]AcquireFunc),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
			},
		},
		retryAttempts: 1,
		retryBaseWait: time.Second,
		log:           log.With("component", "session"),
	}
}

// Register installs the acquisition routine for a target.
func (r *Registry) Register(target string, fn AcquireFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acquirers[target] = fn
}

// SetRetry configures retry-with-backoff around flaky acquisition routines.
func (r *Registry) SetRetry(attempts int, baseWait time.Duration) {
	if attempts > 0 {
		r.retryAttempts = attempts
	}
	if baseWait > 0 {
		r.retryBaseWait = baseWait
	}
}

// SetPrompter installs the resolver for human challenges.
func (r *Registry) SetPrompter(p Prompter) {
	r.prompter = p
}

// HTTPClient returns the shared pooled HTTP client for acquisition routines
// and target implementations.
func (r *Registry) HTTPClient() *http.Client {
	return r.httpClient
}

// Prompt forwards a human challenge to the configured Prompter. Acquisition
// routines that need 2FA call this and block until the UI answers.
func (r *Registry) Prompt(ctx context.Context, target, challenge string) (string, error) {
	if r.prompter == nil {
		return "", fmt.Errorf("%s: challenge %q requires interactive input but no prompter is configured", target, challenge)
	}
	return r.prompter.Prompt(ctx, target, challenge)
}

// Get returns the memoized session handle for target. The first caller runs
// the acquisition routine under the target's lock; acquisition errors and
// panics are logged and memoized as unavailable, never propagated. The bool
// is false when the target is unavailable.
func (r *Registry) Get(ctx context.Context, target string) (*Handle, bool) {
	e := r.entry(target)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateUninitialized {
		return e.handle, e.state == stateAvailable
	}

	handle := r.acquire(ctx, target)
	if handle == nil {
		e.state = stateUnavailable
		return nil, false
	}
	e.state = stateAvailable
	e.handle = handle
	return handle, true
}

// acquire runs the target's acquisition routine with retry and panic
// isolation. A nil return means unavailable.
func (r *Registry) acquire(ctx context.Context, target string) *Handle {
	r.mu.Lock()
	fn, ok := r.acquirers[target]
	r.mu.Unlock()
	if !ok {
		r.log.Warn("no acquisition routine registered", "target", target)
		return nil
	}

	var handle *Handle
	err := util.Retry(ctx, r.retryAttempts, r.retryBaseWait, func() (retErr error) {
		defer func() {
			if p := recover(); p != nil {
				retErr = fmt.Errorf("acquisition panicked: %v", p)
			}
		}()
		h, err := fn(ctx, r)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		r.log.Error("session acquisition failed", "target", target, "error", err)
		return nil
	}
	if handle == nil {
		r.log.Info("target unavailable", "target", target)
		return nil
	}

	r.log.Info("session acquired", "target", target)
	return handle
}

// InitializeSelected warms the registry for the given targets concurrently.
// Individual failures are swallowed; they are memoized as unavailable exactly
// as a direct Get would.
func (r *Registry) InitializeSelected(ctx context.Context, targets []string) {
	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			r.Get(ctx, name)
		}(target)
	}
	wg.Wait()

	r.log.Info("session warm-up complete", "requested", len(targets), "active", len(r.Active()))
}

// InitializeAll warms every registered target.
func (r *Registry) InitializeAll(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.acquirers))
	for name := range r.acquirers {
		names = append(names, name)
	}
	r.mu.Unlock()

	r.InitializeSelected(ctx, names)
}

// Active returns the targets that currently hold a live session.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for name, e := range r.entries {
		e.mu.Lock()
		if e.state == stateAvailable {
			out = append(out, name)
		}
		e.mu.Unlock()
	}
	return out
}

// Cleanup drops all memoized handles so the next Get re-acquires. It is
// idempotent and leaves the shared HTTP transport open for reuse.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
}

// Shutdown drops all sessions and closes idle transport connections. Call
// only on application exit.
func (r *Registry) Shutdown() {
	r.Cleanup()
	r.httpClient.CloseIdleConnections()
}

// entry returns the per-target entry, creating it on first use.
func (r *Registry) entry(target string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[target]
	if !ok {
		e = &entry{}
		r.entries[target] = e
	}
	return e
}
