package pool

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sunnypayments/core/internal/domain"
)

// BankConn is the slice of a bank connector the pool needs to manage it.
type BankConn interface {
	Healthy() bool
	Close() error
}

// BankDialer opens a fresh authenticated bank connection.
type BankDialer func(ctx context.Context) (BankConn, error)

type slot struct {
	conn  BankConn
	inUse bool
}

// BankPool holds a bounded set of bank socket slots. Slots are created
// lazily on first acquire and reused across attempts. Acquire fails fast
// with ErrPoolExhausted when every slot is busy; callers surface that to
// the merchant rather than queueing.
type BankPool struct {
	name   string
	slots  []slot
	dial   BankDialer
	mu     sync.Mutex
	closed bool
	log    *zap.Logger
}

func NewBankPool(name string, size int, dial BankDialer, log *zap.Logger) *BankPool {
	if size <= 0 {
		size = 1
	}
	return &BankPool{
		name:  name,
		slots: make([]slot, size),
		dial:  dial,
		log:   log,
	}
}

// Acquire returns a healthy connection and marks its slot in use.
func (p *BankPool) Acquire(ctx context.Context) (BankConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, domain.ErrPoolClosed
	}

	// Prefer an idle, already-open connection.
	for i := range p.slots {
		s := &p.slots[i]
		if !s.inUse && s.conn != nil && s.conn.Healthy() {
			s.inUse = true
			return s.conn, nil
		}
	}

	// Fill an empty or dead slot.
	for i := range p.slots {
		s := &p.slots[i]
		if s.inUse {
			continue
		}
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		conn, err := p.dial(ctx)
		if err != nil {
			p.log.Warn("Bank dial failed",
				zap.String("pool", p.name),
				zap.Error(err),
			)
			return nil, domain.ErrNoAvailableBackend
		}
		s.conn = conn
		s.inUse = true
		return conn, nil
	}

	return nil, domain.ErrPoolExhausted
}

// Release returns a connection to its slot. Unhealthy connections are
// closed and their slot emptied so the next acquire redials.
func (p *BankPool) Release(conn BankConn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		s := &p.slots[i]
		if s.conn != conn {
			continue
		}
		s.inUse = false
		if !conn.Healthy() {
			conn.Close()
			s.conn = nil
		}
		return
	}
}

// checkHealth closes idle connections that went bad so acquires redial.
func (p *BankPool) checkHealth() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		s := &p.slots[i]
		if s.inUse || s.conn == nil {
			continue
		}
		if !s.conn.Healthy() {
			p.log.Warn("Evicting unhealthy bank connection",
				zap.String("pool", p.name),
				zap.Int("slot", i),
			)
			s.conn.Close()
			s.conn = nil
		}
	}
}

// Close shuts every idle connection and refuses further acquires.
func (p *BankPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for i := range p.slots {
		s := &p.slots[i]
		if s.conn != nil && !s.inUse {
			s.conn.Close()
			s.conn = nil
		}
	}
}
