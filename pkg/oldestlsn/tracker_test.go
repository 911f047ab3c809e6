package oldestlsn_test

import (
	"sync"
	"testing"

	"github.com/bobboyms/storage-engine/pkg/lsn"
	"github.com/bobboyms/storage-engine/pkg/oldestlsn"
)

func TestBucketCount_RoundsToPrimeFloor(t *testing.T) {
	cases := map[uint32]uint32{
		0:    61,
		10:   61,
		61:   61,
		62:   61,
		100:  127,
		1000: 1021,
	}
	for requested, want := range cases {
		if got := oldestlsn.BucketCount(requested); got != want {
			t.Errorf("BucketCount(%d) = %d, want %d", requested, got, want)
		}
	}
}

func TestTracker_EmptyReturnsCurrLsn(t *testing.T) {
	tr := oldestlsn.New(61)
	curr := lsn.LSN{File: 3, Offset: 500}
	if got := tr.OldestActiveLsn(curr); got != curr {
		t.Fatalf("expected %v, got %v", curr, got)
	}
}

func TestTracker_EnterLeave(t *testing.T) {
	tr := oldestlsn.New(61)

	l1 := lsn.LSN{File: 0, Offset: 100}
	l2 := lsn.LSN{File: 0, Offset: 50}

	tr.Enter(1, l1)
	tr.Enter(2, l2)

	if got := tr.OldestActiveLsn(lsn.LSN{File: 9, Offset: 9}); got != l2 {
		t.Fatalf("expected oldest to be %v, got %v", l2, got)
	}

	tr.Leave(2)
	if got := tr.OldestActiveLsn(lsn.LSN{File: 9, Offset: 9}); got != l1 {
		t.Fatalf("expected oldest to be %v, got %v", l1, got)
	}

	tr.Leave(1)
	curr := lsn.LSN{File: 9, Offset: 9}
	if got := tr.OldestActiveLsn(curr); got != curr {
		t.Fatalf("expected curr after all left, got %v", got)
	}
}

func TestTracker_CachePublishesLastResult(t *testing.T) {
	tr := oldestlsn.New(61)
	l1 := lsn.LSN{File: 1, Offset: 1}
	tr.Enter(5, l1)
	got := tr.OldestActiveLsn(lsn.LSN{File: 99, Offset: 0})
	if tr.Cached() != got {
		t.Fatalf("cache not updated: cache=%v got=%v", tr.Cached(), got)
	}
}

func TestTracker_ConcurrentEnterLeaveNeverLosesTrack(t *testing.T) {
	tr := oldestlsn.New(61)
	var wg sync.WaitGroup
	for i := uint64(0); i < 200; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			tr.Enter(id, lsn.LSN{File: 0, Offset: id + 1})
			tr.Leave(id)
		}(i)
	}
	wg.Wait()

	curr := lsn.LSN{File: 1, Offset: 0}
	if got := tr.OldestActiveLsn(curr); got != curr {
		t.Fatalf("expected empty tracker after concurrent enter/leave, got %v", got)
	}
}
