// Package testutil provides in-memory stand-ins for the MySQL stores, the
// content store, the queue and the provider, for service and worker tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/repository"
)

// Ledger keeps subscriptions and transactions in memory. Mutate holds a single
// mutex for the whole callback, standing in for the row lock.
type Ledger struct {
	mu     sync.Mutex
	subs   map[int64]models.Subscription
	txns   []models.TokenTransaction
	nextID int64

	// MutateErr, when set, is returned by Mutate before the callback runs.
	MutateErr error
}

func NewLedger() *Ledger {
	return &Ledger{subs: make(map[int64]models.Subscription)}
}

func (l *Ledger) Get(_ context.Context, userID int64) (*models.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.subs[userID]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (l *Ledger) Create(_ context.Context, sub *models.Subscription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[sub.UserID]; ok {
		return repository.ErrDuplicate
	}
	l.nextID++
	sub.ID = l.nextID
	sub.CreatedAt = time.Now().UTC()
	sub.UpdatedAt = sub.CreatedAt
	l.subs[sub.UserID] = *sub
	return nil
}

// Put stores sub as is, replacing any existing row. Test setup only.
func (l *Ledger) Put(sub models.Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[sub.UserID] = sub
}

func (l *Ledger) Mutate(_ context.Context, userID int64, fn repository.MutateFunc) (*models.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.MutateErr != nil {
		return nil, l.MutateErr
	}
	current, ok := l.subs[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	working := current
	txn, err := fn(&working)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return &working, nil
	}
	working.UpdatedAt = time.Now().UTC()
	l.subs[userID] = working

	l.nextID++
	txn.ID = l.nextID
	txn.UserID = userID
	txn.CreatedAt = working.UpdatedAt
	l.txns = append(l.txns, *txn)
	return &working, nil
}

func (l *Ledger) ListTransactions(_ context.Context, userID int64, limit, offset int) ([]models.TokenTransaction, int, error) {
	all := l.Transactions(userID)
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

// Transactions returns the user's ledger rows in insertion order.
func (l *Ledger) Transactions(userID int64) []models.TokenTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.TokenTransaction
	for _, t := range l.txns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}
