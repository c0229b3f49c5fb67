package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/devlift/internal/domain"
	"github.com/tbourn/devlift/internal/repo"
)

// Store persists quota records. Implementations need not serialize
// read-modify-write sequences; the Tracker does that per key.
type Store interface {
	// Get returns the record for (userID, svc) and whether it exists.
	Get(ctx context.Context, userID string, svc domain.Service) (domain.QuotaRecord, bool, error)
	// Put creates or replaces the record for (rec.UserID, rec.Service).
	Put(ctx context.Context, rec domain.QuotaRecord) error
	// DeleteExpired removes records whose window ended at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type storeKey struct {
	user string
	svc  domain.Service
}

// MemoryStore is a process-local Store. Counters are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[storeKey]domain.QuotaRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[storeKey]domain.QuotaRecord)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, userID string, svc domain.Service) (domain.QuotaRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[storeKey{userID, svc}]
	return rec, ok, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, rec domain.QuotaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[storeKey{rec.UserID, rec.Service}] = rec
	return nil
}

// DeleteExpired implements Store.
func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, rec := range m.recs {
		if rec.Expired(now) {
			delete(m.recs, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}

// DBStore keeps quota records in the quota_records table so counters survive
// restarts and can be shared by processes using the same database file.
type DBStore struct {
	DB *gorm.DB
}

// Get implements Store.
func (s DBStore) Get(ctx context.Context, userID string, svc domain.Service) (domain.QuotaRecord, bool, error) {
	rec, err := repo.GetQuota(ctx, s.DB, userID, svc)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.QuotaRecord{}, false, nil
	}
	if err != nil {
		return domain.QuotaRecord{}, false, err
	}
	return *rec, true, nil
}

// Put implements Store.
func (s DBStore) Put(ctx context.Context, rec domain.QuotaRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	return repo.UpsertQuota(ctx, s.DB, &rec)
}

// DeleteExpired implements Store.
func (s DBStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return repo.DeleteExpiredQuotas(ctx, s.DB, now)
}
