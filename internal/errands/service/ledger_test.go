package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/25x8/campus-errands/internal/errands/models"
	"github.com/25x8/campus-errands/internal/errands/repository"
)

type failingLedgerStore struct {
	repository.LedgerStore
}

func (failingLedgerStore) AppendPoints(context.Context, models.LedgerEntry) error {
	return errors.New("connection refused")
}

func TestLedgerConcurrentGrantsSum(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()
	if err := repo.CreateUser(ctx, &models.User{ID: "u", Login: "u"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ledger := NewLedger(repo)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			points := int64(i%7) - 2
			if _, err := ledger.Grant(ctx, "u", points, "adjustment", fmt.Sprintf("r%d", i)); err != nil {
				t.Errorf("grant %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	var want int64
	for i := 0; i < n; i++ {
		want += int64(i%7) - 2
	}
	total, err := ledger.TotalFor(ctx, "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != want {
		t.Fatalf("total = %d, want %d", total, want)
	}

	history, _ := ledger.History(ctx, "u")
	var sum int64
	for _, e := range history {
		sum += e.Points
	}
	if len(history) != n || sum != total {
		t.Fatalf("history has %d entries summing to %d, total %d", len(history), sum, total)
	}
}

func TestLedgerPenaltyDisplay(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()
	_ = repo.CreateUser(ctx, &models.User{ID: "u", Login: "u"})
	ledger := NewLedger(repo)

	entry, err := ledger.Grant(ctx, "u", -5, "Late delivery penalty", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Display() != "-5" {
		t.Fatalf("display = %q, want -5", entry.Display())
	}
	total, _ := ledger.TotalFor(ctx, "u")
	if total != -5 {
		t.Fatalf("total = %d, want -5", total)
	}
}

func TestLedgerErrors(t *testing.T) {
	ledger := NewLedger(repository.NewMemoryRepository())
	if _, err := ledger.Grant(context.Background(), "ghost", 1, "x", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("grant to unknown user err = %v, want ErrNotFound", err)
	}
	if _, err := ledger.TotalFor(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("total for unknown user err = %v, want ErrNotFound", err)
	}

	broken := NewLedger(failingLedgerStore{})
	if _, err := broken.Grant(context.Background(), "u", 1, "x", ""); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}
