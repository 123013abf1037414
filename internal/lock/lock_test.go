// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package lock

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/ranksheet/internal/logging"
)

// fakeSource emulates session-scoped advisory locks with an in-process
// mutex-guarded set.
type fakeSource struct {
	mu   sync.Mutex
	held map[int64]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{held: make(map[int64]bool)}
}

func (s *fakeSource) AcquireLockConn(ctx context.Context) (Conn, error) {
	return &fakeConn{source: s}, nil
}

type fakeConn struct {
	source *fakeSource
}

func lockKey(classID, objID int32) int64 {
	return int64(classID)<<32 | int64(uint32(objID))
}

func (c *fakeConn) TryLock(ctx context.Context, classID, objID int32) (bool, error) {
	c.source.mu.Lock()
	defer c.source.mu.Unlock()
	key := lockKey(classID, objID)
	if c.source.held[key] {
		return false, nil
	}
	c.source.held[key] = true
	return true, nil
}

func (c *fakeConn) Unlock(ctx context.Context, classID, objID int32) error {
	c.source.mu.Lock()
	defer c.source.mu.Unlock()
	delete(c.source.held, lockKey(classID, objID))
	return nil
}

func (c *fakeConn) SetStatementTimeout(ctx context.Context, d time.Duration) error { return nil }
func (c *fakeConn) ResetStatementTimeout(ctx context.Context) error                { return nil }
func (c *fakeConn) Release()                                                       {}

func TestWithLockMutualExclusion(t *testing.T) {
	source := newFakeSource()
	mgr := NewManager(source, Config{AcquireTimeout: 2 * time.Second}, logging.NewTestLogger(io.Discard))

	var inside atomic.Int32
	var overlapped atomic.Bool
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := mgr.WithLock(context.Background(), "keyword:wireless-earbuds", func(ctx context.Context) error {
				if inside.Add(1) > 1 {
					overlapped.Store(true)
				}
				time.Sleep(10 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("WithLock error: %v", err)
			}
			if !result.Acquired {
				t.Errorf("expected acquisition within timeout")
			}
		}()
	}
	wg.Wait()

	if overlapped.Load() {
		t.Error("two holders ran the guarded section concurrently")
	}
}

func TestWithLockTimeoutReportsNotAcquired(t *testing.T) {
	source := newFakeSource()
	mgr := NewManager(source, Config{AcquireTimeout: 150 * time.Millisecond}, logging.NewTestLogger(io.Discard))

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		mgr.WithLock(context.Background(), "keyword:standing-desk", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	result, err := mgr.WithLock(context.Background(), "keyword:standing-desk", func(ctx context.Context) error {
		t.Error("guarded function ran despite contention")
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock error: %v", err)
	}
	if result.Acquired {
		t.Error("expected acquired=false after timeout")
	}
	if result.Waited < 150*time.Millisecond {
		t.Errorf("waited %v, expected at least the acquire timeout", result.Waited)
	}
}

func TestWithLockDistinctKeysDoNotContend(t *testing.T) {
	source := newFakeSource()
	mgr := NewManager(source, Config{AcquireTimeout: 100 * time.Millisecond}, logging.NewTestLogger(io.Discard))

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		mgr.WithLock(context.Background(), "keyword:yoga-mat", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	result, err := mgr.WithLock(context.Background(), "keyword:coffee-grinder", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock error: %v", err)
	}
	if !result.Acquired {
		t.Error("distinct keyword should not contend")
	}
}

func TestKeyIDStable(t *testing.T) {
	a := KeyID("keyword:wireless-earbuds")
	b := KeyID("keyword:wireless-earbuds")
	c := KeyID("keyword:standing-desk")

	if a != b {
		t.Error("same key hashed to different ids")
	}
	if a == c {
		t.Error("distinct keys unexpectedly collided")
	}
}
