package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobboyms/storage-engine/pkg/heap"
	"github.com/bobboyms/storage-engine/pkg/storage"
	"github.com/bobboyms/storage-engine/pkg/types"
	"github.com/bobboyms/storage-engine/pkg/wal"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a fixed-duration branch/teller/account workload",
	Long: `run populates branch, teller and account tables and then drives
"workers" goroutines against them for "duration", each executing
debit/credit transactions: read the account balance, adjust it, write the
teller and branch balances, append a history row, and commit.`,
	RunE: runTPCB,
}

func init() {
	runCmd.Flags().String("data-dir", "", "Directory to hold WAL and heap files (default: a temp dir)")
	runCmd.Flags().Int("branches", 1, "Number of branches (scale factor)")
	runCmd.Flags().Int("tellers-per-branch", 10, "Tellers per branch")
	runCmd.Flags().Int("accounts-per-branch", 100000, "Accounts per branch")
	runCmd.Flags().Int("workers", 8, "Concurrent worker goroutines")
	runCmd.Flags().Duration("duration", 10*time.Second, "How long to run the workload")
	runCmd.Flags().Int64("seed", 1, "Random seed for the workload generator")
}

type tpcbSchema struct {
	engine   *storage.StorageEngine
	walW     *wal.WALWriter
	branches int
	tellers  int // per branch
	accounts int // per branch
}

func runTPCB(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	branches, _ := cmd.Flags().GetInt("branches")
	tellersPerBranch, _ := cmd.Flags().GetInt("tellers-per-branch")
	accountsPerBranch, _ := cmd.Flags().GetInt("accounts-per-branch")
	workers, _ := cmd.Flags().GetInt("workers")
	duration, _ := cmd.Flags().GetDuration("duration")
	seed, _ := cmd.Flags().GetInt64("seed")

	if dataDir == "" {
		var err error
		dataDir, err = os.MkdirTemp("", "tpcb-")
		if err != nil {
			return fmt.Errorf("create temp data dir: %w", err)
		}
		log.Info().Str("dir", dataDir).Msg("using generated temp data directory")
	}

	schema, err := loadSchema(dataDir, branches, tellersPerBranch, accountsPerBranch)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	defer schema.engine.Close()

	log.Info().
		Int("branches", branches).
		Int("tellers_per_branch", tellersPerBranch).
		Int("accounts_per_branch", accountsPerBranch).
		Int("workers", workers).
		Dur("duration", duration).
		Msg("starting tpcb workload")

	var committed int64
	var failed int64

	deadline := time.Now().Add(duration)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed + int64(workerID)))
			for time.Now().Before(deadline) {
				if err := schema.runOneTransaction(rnd); err != nil {
					atomic.AddInt64(&failed, 1)
					continue
				}
				atomic.AddInt64(&committed, 1)
			}
		}(w)
	}

	start := time.Now()
	wg.Wait()
	elapsed := time.Since(start)

	tps := float64(committed) / elapsed.Seconds()
	fmt.Printf("committed=%d failed=%d elapsed=%s tps=%.1f\n", committed, failed, elapsed, tps)
	return nil
}

// runOneTransaction implements the classic TPC-B debit/credit: adjust an
// account, its teller and its branch by delta, append a history row.
func (s *tpcbSchema) runOneTransaction(rnd *rand.Rand) error {
	branchID := rnd.Intn(s.branches)
	tellerID := branchID*s.tellers + rnd.Intn(s.tellers)
	accountID := branchID*s.accounts + rnd.Intn(s.accounts)
	delta := rnd.Intn(2001) - 1000 // [-1000, 1000]

	tx := s.engine.BeginWriteTransaction()

	accDoc, found, err := s.engine.Get("accounts", "id", types.IntKey(accountID))
	if err != nil {
		return err
	}
	balance := 0
	if found {
		balance = parseBalance(accDoc)
	}
	balance += delta

	if err := tx.Put("accounts", "id", types.IntKey(accountID), accountJSON(accountID, branchID, balance)); err != nil {
		return err
	}
	if err := tx.Put("tellers", "id", types.IntKey(tellerID), tellerJSON(tellerID, branchID, delta)); err != nil {
		return err
	}
	if err := tx.Put("branches", "id", types.IntKey(branchID), branchJSON(branchID, delta)); err != nil {
		return err
	}
	historyID := rnd.Int63()
	if err := tx.Put("history", "id", types.IntKey(historyID), historyJSON(accountID, tellerID, branchID, delta)); err != nil {
		return err
	}

	return tx.Commit()
}

func loadSchema(dataDir string, branches, tellersPerBranch, accountsPerBranch int) (*tpcbSchema, error) {
	tableMgr := storage.NewTableMenager()

	tables := []struct {
		name string
		file string
	}{
		{"branches", "branches.heap"},
		{"tellers", "tellers.heap"},
		{"accounts", "accounts.heap"},
		{"history", "history.heap"},
	}

	for _, t := range tables {
		hm, err := heap.NewHeapManager(filepath.Join(dataDir, t.file))
		if err != nil {
			return nil, fmt.Errorf("create heap for %s: %w", t.name, err)
		}
		if err := tableMgr.NewTable(t.name, []storage.Index{
			{Name: "id", Primary: true, Type: storage.TypeInt},
		}, 16, hm); err != nil {
			return nil, fmt.Errorf("create table %s: %w", t.name, err)
		}
	}

	walOpts := wal.DefaultOptions()
	walOpts.DirPath = dataDir
	walW, err := wal.NewWALWriter(filepath.Join(dataDir, "tpcb.wal"), walOpts)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	engine, err := storage.NewStorageEngine(tableMgr, walW)
	if err != nil {
		walW.Close()
		return nil, fmt.Errorf("open engine: %w", err)
	}

	schema := &tpcbSchema{
		engine:   engine,
		walW:     walW,
		branches: branches,
		tellers:  tellersPerBranch,
		accounts: accountsPerBranch,
	}

	if err := schema.seed(); err != nil {
		return nil, fmt.Errorf("seed initial rows: %w", err)
	}

	return schema, nil
}

// seed writes a zero-balance row for every branch and teller (accounts are
// created lazily by runOneTransaction on first touch).
func (s *tpcbSchema) seed() error {
	for b := 0; b < s.branches; b++ {
		if err := s.engine.Put("branches", "id", types.IntKey(b), branchJSON(b, 0)); err != nil {
			return err
		}
		for t := 0; t < s.tellers; t++ {
			tellerID := b*s.tellers + t
			if err := s.engine.Put("tellers", "id", types.IntKey(tellerID), tellerJSON(tellerID, b, 0)); err != nil {
				return err
			}
		}
	}
	return nil
}

func accountJSON(id, branchID, balance int) string {
	return fmt.Sprintf(`{"id": %d, "branch_id": %d, "balance": %d}`, id, branchID, balance)
}

func tellerJSON(id, branchID, deltaApplied int) string {
	return fmt.Sprintf(`{"id": %d, "branch_id": %d, "balance_delta": %d}`, id, branchID, deltaApplied)
}

func branchJSON(id, deltaApplied int) string {
	return fmt.Sprintf(`{"id": %d, "balance_delta": %d}`, id, deltaApplied)
}

func historyJSON(accountID, tellerID, branchID, delta int) string {
	return fmt.Sprintf(`{"account_id": %d, "teller_id": %d, "branch_id": %d, "delta": %d, "ts": %d}`,
		accountID, tellerID, branchID, delta, time.Now().UnixNano())
}

// parseBalance extracts the "balance" field from a document written by
// accountJSON without pulling in a full JSON decoder for one int field.
func parseBalance(doc string) int {
	const key = `"balance": `
	idx := strings.Index(doc, key)
	if idx < 0 {
		return 0
	}
	start := idx + len(key)
	end := start
	for end < len(doc) && (doc[end] == '-' || (doc[end] >= '0' && doc[end] <= '9')) {
		end++
	}
	n, _ := strconv.Atoi(doc[start:end])
	return n
}
