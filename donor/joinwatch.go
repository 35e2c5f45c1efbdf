/*
joinwatch.go - Deferred post-join grant check

PURPOSE:
  When a user joins a group, their membership may not be visible in the
  external directory immediately. The watcher schedules an eligibility
  check a short delay after the join and grants the group's configured
  marker if the user's balance is positive by then. The delay is a
  propagation heuristic only; correctness never depends on it, since a
  later balance change or group reconciliation converges the same state.

CANCELLATION:
  A pending check is cancelled when the user leaves the group before it
  fires, or when the watcher shuts down via Close. Drain is the inverse
  shutdown: it runs pending checks now instead of dropping them.
*/
package donor

import (
	"context"
	"sync"
	"time"
)

const defaultJoinDelay = 5 * time.Second

// JoinWatcher runs one deferred grant check per (group, user) join.
type JoinWatcher struct {
	Groups    GroupConfigStore
	Ledger    LedgerStore
	Directory Directory

	// Delay before the check fires. Zero means defaultJoinDelay.
	Delay time.Duration

	mu      sync.Mutex
	pending map[joinKey]*time.Timer
	wg      sync.WaitGroup
	closed  bool
}

type joinKey struct {
	Group GroupID
	User  UserID
}

func NewJoinWatcher(groups GroupConfigStore, ledger LedgerStore, dir Directory) *JoinWatcher {
	return &JoinWatcher{
		Groups:    groups,
		Ledger:    ledger,
		Directory: dir,
		pending:   make(map[joinKey]*time.Timer),
	}
}

// OnJoin schedules the deferred check for user in group. A second join
// before the first check fires resets the timer.
func (w *JoinWatcher) OnJoin(group GroupID, user UserID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	key := joinKey{Group: group, User: user}
	w.cancelLocked(key)

	delay := w.Delay
	if delay <= 0 {
		delay = defaultJoinDelay
	}

	w.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		w.mu.Lock()
		// A rejoin, a leave, or shutdown may have superseded this entry;
		// whoever removed it already settled the wait accounting.
		if w.pending[key] != timer {
			w.mu.Unlock()
			return
		}
		delete(w.pending, key)
		w.mu.Unlock()

		defer w.wg.Done()
		w.check(key.Group, key.User)
	})
	w.pending[key] = timer
}

// cancelLocked removes the pending check for key and settles its wait
// accounting. Callers hold w.mu; a callback that fired concurrently
// will find the entry gone and return without running the check.
func (w *JoinWatcher) cancelLocked(key joinKey) {
	t, ok := w.pending[key]
	if !ok {
		return
	}
	delete(w.pending, key)
	t.Stop()
	w.wg.Done()
}

// OnLeave cancels the pending check for user in group, if any.
func (w *JoinWatcher) OnLeave(group GroupID, user UserID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelLocked(joinKey{Group: group, User: user})
}

// Close cancels all pending checks without running them and waits for
// in-flight ones. Use Drain to run pending checks instead.
func (w *JoinWatcher) Close() {
	w.mu.Lock()
	w.closed = true
	for key := range w.pending {
		w.cancelLocked(key)
	}
	w.mu.Unlock()

	w.wg.Wait()
}

// Drain fires every pending check immediately and waits for it, along
// with any in-flight checks, to finish.
func (w *JoinWatcher) Drain() {
	w.mu.Lock()
	for _, t := range w.pending {
		t.Reset(0)
	}
	w.mu.Unlock()

	w.wg.Wait()
}

// check grants the group's configured marker iff one is configured and
// the user's balance is positive. Every failure is dropped.
func (w *JoinWatcher) check(group GroupID, user UserID) {
	ctx := context.Background()

	grant, hadGrant, err := w.Groups.GetGroupGrant(ctx, group)
	if err != nil || !hadGrant {
		discard("join check config read", err)
		return
	}

	balance, err := w.Ledger.GetBalance(ctx, user)
	if err != nil {
		discard("join check ledger read", err)
		return
	}
	if !Eligible(balance) {
		return
	}

	discard("join grant add", w.Directory.AddGrant(ctx, group, user, grant))
}
