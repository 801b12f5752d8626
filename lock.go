// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dblite

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// exclusiveLock is the per-Database mutex of exclusive transactions. It is
// reentrant through contexts: a context returned by acquire holds the lock
// until the matching release, and acquiring again with it does not block.
type exclusiveLock struct {
	sem *semaphore.Weighted
}

type ownerKey struct {
	lock *exclusiveLock
}

// lockToken marks a context as holding the lock. It is cleared on release so
// that a context kept past release no longer counts as the holder.
type lockToken struct {
	held atomic.Bool
}

func newExclusiveLock() *exclusiveLock {
	return &exclusiveLock{sem: semaphore.NewWeighted(1)}
}

// holds reports whether ctx was returned by an acquire that has not been
// released yet.
func (l *exclusiveLock) holds(ctx context.Context) bool {
	tok, ok := ctx.Value(ownerKey{l}).(*lockToken)
	return ok && tok.held.Load()
}

// acquire waits until the lock is free or ctx is done. It returns the
// context to use while holding the lock and the function that releases it.
// If ctx already holds the lock, the release function does nothing.
func (l *exclusiveLock) acquire(ctx context.Context) (context.Context, func(), error) {
	if l.holds(ctx) {
		return ctx, func() {}, nil
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return ctx, nil, err
	}
	tok := &lockToken{}
	tok.held.Store(true)
	release := func() {
		if tok.held.CompareAndSwap(true, false) {
			l.sem.Release(1)
		}
	}
	return context.WithValue(ctx, ownerKey{l}, tok), release, nil
}

// share returns ctx marked as holding the lock that owner holds.
func (l *exclusiveLock) share(ctx, owner context.Context) context.Context {
	tok, ok := owner.Value(ownerKey{l}).(*lockToken)
	if !ok || !tok.held.Load() {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{l}, tok)
}
