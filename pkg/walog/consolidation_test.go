package walog

import (
	"sync"
	"testing"

	"github.com/bobboyms/storage-engine/pkg/lsn"
)

type fakeWriter struct {
	mu   sync.Mutex
	next uint64
}

func (f *fakeWriter) writeBatch(total []byte) (lsn.LSN, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	assigned := lsn.LSN{File: 0, Offset: f.next}
	f.next += uint64(len(total))
	return assigned, nil
}

func TestConsolidationArray_EveryParticipantGetsDistinctLSN(t *testing.T) {
	ca := NewConsolidationArray(2, &fakeWriter{}, 0)

	var wg sync.WaitGroup
	results := make([]lsn.LSN, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := ca.Join([]byte("xx"))
			if err != nil {
				t.Errorf("Join: %v", err)
			}
			results[i] = got
		}(i)
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, r := range results {
		if seen[r.Offset] {
			t.Fatalf("duplicate assigned offset %d", r.Offset)
		}
		seen[r.Offset] = true
	}
}
