package capture

import (
	"context"
	"sync"

	apperrors "github.com/fenwick-labs/earmark/internal/errors"
)

// Status is the cached permission state for a capture source.
type Status int

const (
	StatusUndetermined Status = iota
	StatusGranted
	StatusDenied
)

func (s Status) String() string {
	switch s {
	case StatusGranted:
		return "granted"
	case StatusDenied:
		return "denied"
	default:
		return "undetermined"
	}
}

// Checker resolves OS capture permissions. Current is cheap and never
// prompts; Request may show a system dialog and blocks until the user
// answers or ctx is done.
type Checker interface {
	Current() Status
	Request(ctx context.Context) (bool, error)
}

// Static is a Checker pinned to a fixed status, used where the platform
// grants access out of band (headless daemons) and in tests.
type Static struct {
	Status Status
}

func (s Static) Current() Status { return s.Status }

func (s Static) Request(_ context.Context) (bool, error) {
	return s.Status == StatusGranted, nil
}

// askOnce resolves permission with one-shot prompt semantics: the system
// dialog is requested at most once per session lifetime no matter how
// many times Start is called. It carries its own mutex so a blocking
// Request never holds the session lock.
type askOnce struct {
	mu    sync.Mutex
	perm  Checker
	asked bool
}

func (a *askOnce) ensure(ctx context.Context, what string) error {
	a.mu.Lock()
	switch a.perm.Current() {
	case StatusGranted:
		a.mu.Unlock()
		return nil
	case StatusDenied:
		a.mu.Unlock()
		return apperrors.Newf(apperrors.CodePermissionDenied, "%s access denied", what)
	}
	if a.asked {
		a.mu.Unlock()
		return apperrors.Newf(apperrors.CodePermissionDenied, "%s access not granted", what)
	}
	a.asked = true
	a.mu.Unlock()

	granted, err := a.perm.Request(ctx)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodePermissionDenied, "%s permission request failed", what)
	}
	if !granted {
		return apperrors.Newf(apperrors.CodePermissionDenied, "%s access denied", what)
	}
	return nil
}
