package rawlock_test

import (
	"testing"
	"time"

	"github.com/bobboyms/storage-engine/pkg/lsn"
	"github.com/bobboyms/storage-engine/pkg/rawlock"
)

func newTestQueue(t *testing.T, hash uint32) *rawlock.LockQueue {
	t.Helper()
	pool := rawlock.NewPool[rawlock.LockEntry](rawlock.PoolOptions{SegSize: 16, InitSegmentCount: 1, MaxSegmentCount: 4})
	t.Cleanup(pool.Close)
	return rawlock.NewLockQueue(hash, pool)
}

func sMode() rawlock.Mode { return rawlock.Mode{Key: rawlock.S, Gap: rawlock.GapN} }
func xMode() rawlock.Mode { return rawlock.Mode{Key: rawlock.X, Gap: rawlock.GapN} }

func TestQueue_CompatibleGrantsImmediately(t *testing.T) {
	q := newTestQueue(t, 1)
	t1 := rawlock.NewTransactionShadow(1)
	t2 := rawlock.NewTransactionShadow(2)

	if _, err := q.Acquire(t1, sMode(), -1); err != nil {
		t.Fatalf("t1 acquire S: %v", err)
	}
	if _, err := q.Acquire(t2, sMode(), -1); err != nil {
		t.Fatalf("t2 acquire S: %v", err)
	}
}

func TestQueue_ConflictingConditionalFailsFast(t *testing.T) {
	q := newTestQueue(t, 2)
	t1 := rawlock.NewTransactionShadow(1)
	t2 := rawlock.NewTransactionShadow(2)

	if _, err := q.Acquire(t1, xMode(), -1); err != nil {
		t.Fatalf("t1 acquire X: %v", err)
	}
	if _, err := q.Acquire(t2, sMode(), 0); err == nil {
		t.Fatalf("expected conditional acquire to fail while X is held")
	}
}

func TestQueue_ReleaseWakesWaiter(t *testing.T) {
	q := newTestQueue(t, 3)
	t1 := rawlock.NewTransactionShadow(1)
	t2 := rawlock.NewTransactionShadow(2)

	e1, err := q.Acquire(t1, xMode(), -1)
	if err != nil {
		t.Fatalf("t1 acquire X: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := q.Acquire(t2, sMode(), -1)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Release(e1, lsn.Null)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("t2 acquire after release: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("t2 never woke up after t1 released")
	}
}

func TestQueue_DeadlockDetected(t *testing.T) {
	qa := newTestQueue(t, 10)
	qb := newTestQueue(t, 11)

	t1 := rawlock.NewTransactionShadow(100)
	t2 := rawlock.NewTransactionShadow(200)

	e1a, err := qa.Acquire(t1, xMode(), -1)
	if err != nil {
		t.Fatalf("t1 acquire A: %v", err)
	}
	if _, err := qb.Acquire(t2, xMode(), -1); err != nil {
		t.Fatalf("t2 acquire B: %v", err)
	}

	t2blocked := make(chan error, 1)
	go func() {
		_, err := qa.Acquire(t2, xMode(), -1)
		t2blocked <- err
	}()

	time.Sleep(20 * time.Millisecond)

	if _, err := qb.Acquire(t1, xMode(), -1); err == nil {
		t.Fatalf("expected deadlock error when t1 waits on t2 while t2 waits on t1")
	}

	qa.Release(e1a, lsn.Null)
	<-t2blocked
}

func TestQueue_ReleaseWithCommitLSNAdvancesXLockTag(t *testing.T) {
	q := newTestQueue(t, 1)
	t1 := rawlock.NewTransactionShadow(1)

	e, err := q.Acquire(t1, xMode(), -1)
	if err != nil {
		t.Fatalf("acquire X: %v", err)
	}

	commit := lsn.LSN{File: 0, Offset: 100}
	q.Release(e, commit)

	if got := q.XLockTag(); got != commit {
		t.Fatalf("x_lock_tag = %v, want %v", got, commit)
	}

	// A later release with a smaller commit LSN must never move the tag
	// backward (spec §8 invariant 2: x_lock_tag is monotone non-decreasing).
	t2 := rawlock.NewTransactionShadow(2)
	e2, err := q.Acquire(t2, xMode(), -1)
	if err != nil {
		t.Fatalf("acquire X t2: %v", err)
	}
	q.Release(e2, lsn.LSN{File: 0, Offset: 5})
	if got := q.XLockTag(); got != commit {
		t.Fatalf("x_lock_tag regressed to %v, want %v", got, commit)
	}
}

func TestQueue_AcquireRaisesReadWatermarkFromXLockTag(t *testing.T) {
	q := newTestQueue(t, 1)
	writer := rawlock.NewTransactionShadow(1)

	e, err := q.Acquire(writer, xMode(), -1)
	if err != nil {
		t.Fatalf("acquire X: %v", err)
	}
	commit := lsn.LSN{File: 0, Offset: 42}
	q.Release(e, commit)

	reader := rawlock.NewTransactionShadow(2)
	if _, err := q.Acquire(reader, sMode(), -1); err != nil {
		t.Fatalf("acquire S: %v", err)
	}
	if got := reader.ReadWatermark(); got != commit {
		t.Fatalf("read watermark = %v, want %v (spec §8 invariant 3)", got, commit)
	}
}

func TestQueue_OnDemandUndoUnblocksWaiter(t *testing.T) {
	q := newTestQueue(t, 20)
	loser := rawlock.NewTransactionShadow(1)
	waiter := rawlock.NewTransactionShadow(2)

	e1, err := q.Acquire(loser, xMode(), -1)
	if err != nil {
		t.Fatalf("loser acquire X: %v", err)
	}

	loser.MarkLoser()
	undoRan := false
	loser.OnDemandUndo = func() error {
		undoRan = true
		q.Release(e1, lsn.Null)
		return nil
	}

	if _, err := q.Acquire(waiter, xMode(), -1); err != nil {
		t.Fatalf("waiter acquire after on-demand undo: %v", err)
	}
	if !undoRan {
		t.Fatalf("expected waiter to drive the loser's on-demand undo")
	}
}

func TestQueue_OnDemandUndoLatchPreventsDoubleRollback(t *testing.T) {
	q := newTestQueue(t, 21)
	loser := rawlock.NewTransactionShadow(1)
	loser.MarkLoser()

	runs := 0
	loser.OnDemandUndo = func() error {
		runs++
		return nil
	}

	drove1, err1 := loser.TryDriveUndo()
	drove2, err2 := loser.TryDriveUndo()
	if !drove1 || err1 != nil {
		t.Fatalf("first TryDriveUndo: drove=%v err=%v", drove1, err1)
	}
	if drove2 || err2 != nil {
		t.Fatalf("second TryDriveUndo should be a no-op, got drove=%v err=%v", drove2, err2)
	}
	if runs != 1 {
		t.Fatalf("OnDemandUndo ran %d times, want 1", runs)
	}
}

func TestQueue_TryCheckFastPath(t *testing.T) {
	q := newTestQueue(t, 1)
	t1 := rawlock.NewTransactionShadow(1)
	t2 := rawlock.NewTransactionShadow(2)

	if !q.TryCheck(t1, sMode()) {
		t.Fatalf("empty queue should be compatible with anything")
	}

	e, err := q.Acquire(t1, xMode(), -1)
	if err != nil {
		t.Fatalf("acquire X: %v", err)
	}

	if q.TryCheck(t2, sMode()) {
		t.Fatalf("t2 should not see S as compatible with t1's live X")
	}
	// The lock owner itself is always compatible with its own entries.
	if !q.TryCheck(t1, sMode()) {
		t.Fatalf("owner should be compatible with its own granted entry")
	}

	q.Release(e, lsn.Null)
	if !q.TryCheck(t2, sMode()) {
		t.Fatalf("t2 should see S as compatible once X is released")
	}
}
