// Package memory is a process-local implementation of the repository
// interfaces. It backs STORAGE=memory and the service-level tests.
//
// Transactions are serialized: RunInTx holds a lock for the whole callback,
// and calls made outside a transaction wait for it. A failing callback
// restores the snapshot taken when it began.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/models"
)

type txKey struct{}

// DB is an in-process stand-in for Postgres: it implements
// repository.TxManager and hands out the three stores. A transaction holds
// txMu for its whole run and restores a snapshot of every map when fn
// fails, so rollbacks behave as they do on a real database.
type DB struct {
	txMu sync.Mutex // held for a whole transaction or a single standalone call
	mu   sync.Mutex // guards the maps below

	tenants map[uuid.UUID]models.Tenant
	users   map[uuid.UUID]models.User
	orders  map[uuid.UUID]models.Order
	items   map[uuid.UUID]models.OrderItem
	// insertion sequence, used for stable newest-first ordering when
	// timestamps collide
	seq     map[uuid.UUID]int64
	nextSeq int64

	now func() time.Time
}

// New returns an empty store.
func New() *DB {
	return &DB{
		tenants: make(map[uuid.UUID]models.Tenant),
		users:   make(map[uuid.UUID]models.User),
		orders:  make(map[uuid.UUID]models.Order),
		items:   make(map[uuid.UUID]models.OrderItem),
		seq:     make(map[uuid.UUID]int64),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (db *DB) Tenants() *TenantStore { return &TenantStore{db: db} }
func (db *DB) Users() *UserStore     { return &UserStore{db: db} }
func (db *DB) Orders() *OrderStore   { return &OrderStore{db: db} }

// Health always succeeds; there is nothing to reach.
func (db *DB) Health(ctx context.Context) error { return ctx.Err() }

type snapshot struct {
	tenants map[uuid.UUID]models.Tenant
	users   map[uuid.UUID]models.User
	orders  map[uuid.UUID]models.Order
	items   map[uuid.UUID]models.OrderItem
	seq     map[uuid.UUID]int64
	nextSeq int64
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (db *DB) snapshot() snapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	return snapshot{
		tenants: cloneMap(db.tenants),
		users:   cloneMap(db.users),
		orders:  cloneMap(db.orders),
		items:   cloneMap(db.items),
		seq:     cloneMap(db.seq),
		nextSeq: db.nextSeq,
	}
}

func (db *DB) restore(s snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tenants, db.users, db.orders, db.items = s.tenants, s.users, s.orders, s.items
	db.seq, db.nextSeq = s.seq, s.nextSeq
}

// RunInTx runs fn with exclusive access to the store. A nested call joins
// the outer transaction.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	snap := db.snapshot()
	defer func() {
		if p := recover(); p != nil {
			db.restore(snap)
			panic(p)
		}
		if err != nil {
			db.restore(snap)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, true))
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// enter locks the store for one call. Inside a transaction the caller
// already holds txMu, so only the map lock is taken.
func (db *DB) enter(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if inTx(ctx) {
		db.mu.Lock()
		return db.mu.Unlock, nil
	}
	db.txMu.Lock()
	db.mu.Lock()
	return func() {
		db.mu.Unlock()
		db.txMu.Unlock()
	}, nil
}

// mark records insertion order for id. Caller holds mu.
func (db *DB) mark(id uuid.UUID) {
	db.nextSeq++
	db.seq[id] = db.nextSeq
}

// sortNewestFirst orders by CreatedAt descending, then by insertion order
// descending. Caller holds mu.
func (db *DB) sortNewestFirst(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return db.seq[orders[i].ID] > db.seq[orders[j].ID]
	})
}
