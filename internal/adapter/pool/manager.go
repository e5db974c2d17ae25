package pool

import (
	"context"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sunnypayments/core/internal/adapter/storage/postgres"
	"github.com/sunnypayments/core/internal/domain"
	"github.com/sunnypayments/core/internal/ports"
)

// Manager owns every connection family the core talks through: the
// relational store, the shared cache, and the per-rail bank socket pools.
// A background loop re-checks each family; the cache degrades to a local
// in-process fallback instead of failing requests.
type Manager struct {
	db         *gorm.DB
	cache      ports.Cache
	localCache ports.Cache
	degraded   bool

	bankPools map[string]*BankPool

	interval time.Duration
	clk      clock.Clock
	log      *zap.Logger

	mu     sync.RWMutex
	stopCh chan struct{}
	once   sync.Once
}

func NewManager(db *gorm.DB, cache, localCache ports.Cache, interval time.Duration, clk clock.Clock, log *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}

	m := &Manager{
		db:         db,
		cache:      cache,
		localCache: localCache,
		bankPools:  make(map[string]*BankPool),
		interval:   interval,
		clk:        clk,
		log:        log,
		stopCh:     make(chan struct{}),
	}

	go m.healthLoop()
	return m
}

// RegisterBankPool adds a bounded socket pool for one bank rail.
func (m *Manager) RegisterBankPool(rail string, pool *BankPool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bankPools[rail] = pool
}

// BankPool returns the socket pool for a rail, or nil if none registered.
func (m *Manager) BankPool(rail string) *BankPool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bankPools[rail]
}

// AcquireBank borrows a bank connection for the rail.
func (m *Manager) AcquireBank(ctx context.Context, rail string) (BankConn, error) {
	p := m.BankPool(rail)
	if p == nil {
		return nil, domain.ErrNoAvailableBackend
	}
	return p.Acquire(ctx)
}

// ReleaseBank returns a borrowed bank connection to its rail's pool.
func (m *Manager) ReleaseBank(rail string, conn BankConn) {
	if p := m.BankPool(rail); p != nil {
		p.Release(conn)
	}
}

func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Cache returns the shared cache, or the local fallback while the shared
// store is unreachable. Callers never see the switch.
func (m *Manager) Cache() ports.Cache {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.degraded {
		return m.localCache
	}
	return m.cache
}

func (m *Manager) healthLoop() {
	ticker := m.clk.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkHealth()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) checkHealth() {
	if m.db != nil {
		if sqlDB, err := m.db.DB(); err == nil {
			if err := sqlDB.Ping(); err != nil {
				m.log.Error("Database health check failed", zap.Error(err))
			}
		}
	}

	if m.cache != nil {
		err := m.cache.Ping()

		m.mu.Lock()
		switch {
		case err != nil && !m.degraded:
			m.degraded = true
			m.log.Warn("Cache unreachable, degrading to local in-memory cache", zap.Error(err))
		case err == nil && m.degraded:
			m.degraded = false
			m.log.Info("Cache reachable again, leaving degraded mode")
		}
		m.mu.Unlock()
	}

	m.mu.RLock()
	pools := make([]*BankPool, 0, len(m.bankPools))
	for _, p := range m.bankPools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	for _, p := range pools {
		p.checkHealth()
	}
}

// Shutdown closes every managed connection. Safe to call more than once.
func (m *Manager) Shutdown() error {
	var err error
	m.once.Do(func() {
		close(m.stopCh)

		m.mu.Lock()
		pools := m.bankPools
		m.bankPools = make(map[string]*BankPool)
		m.mu.Unlock()

		for _, p := range pools {
			p.Close()
		}

		if m.cache != nil {
			if cerr := m.cache.Close(); cerr != nil {
				err = cerr
			}
		}
		if m.localCache != nil {
			m.localCache.Close()
		}
		if m.db != nil {
			if derr := postgres.Close(m.db); derr != nil && err == nil {
				err = derr
			}
		}
		m.log.Info("Connection manager shut down")
	})
	return err
}
