package settlement

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sunnypayments/core/internal/adapter/ledger"
	"github.com/sunnypayments/core/internal/adapter/queue"
)

type Status string

const (
	StatusWatching   Status = "watching"
	StatusConfirmed  Status = "confirmed"
	StatusMismatched Status = "mismatched"
	StatusExpired    Status = "expired"
)

// TrackedSettlement is one expected crypto receipt under watch.
type TrackedSettlement struct {
	TransactionID string          `json:"transaction_id"`
	Currency      string          `json:"currency"`
	Address       string          `json:"address"`
	Expected      decimal.Decimal `json:"expected"`
	Confirmations int             `json:"confirmations"`
	ExpiresAt     time.Time       `json:"expires_at"`
	Status        Status          `json:"status"`
}

// Event is published when a tracked settlement reaches a notable state.
type Event struct {
	TransactionID string          `json:"transaction_id"`
	Currency      string          `json:"currency"`
	Address       string          `json:"address"`
	Expected      decimal.Decimal `json:"expected"`
	Observed      decimal.Decimal `json:"observed"`
	Confirmations int             `json:"confirmations"`
}

// Monitor polls ledger nodes for expected receipts. One polling loop runs
// per currency, shared by every tracked transaction of that currency, and
// stops itself once nothing of that currency remains under watch.
type Monitor struct {
	provider ledger.Provider
	sink     queue.MessageQueue

	required         map[string]int
	tolerances       map[string]float64
	defaultTolerance float64
	pollInterval     time.Duration

	tracked map[string]*TrackedSettlement
	loops   map[string]chan struct{}
	mu      sync.Mutex
	closed  bool

	clk clock.Clock
	log *zap.Logger
	wg  sync.WaitGroup
}

func NewMonitor(provider ledger.Provider, sink queue.MessageQueue, required map[string]int, tolerances map[string]float64, defaultTolerance float64, pollInterval time.Duration, clk clock.Clock, log *zap.Logger) *Monitor {
	if defaultTolerance <= 0 {
		defaultTolerance = 0.001
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Monitor{
		provider:         provider,
		sink:             sink,
		required:         required,
		tolerances:       tolerances,
		defaultTolerance: defaultTolerance,
		pollInterval:     pollInterval,
		tracked:          make(map[string]*TrackedSettlement),
		loops:            make(map[string]chan struct{}),
		clk:              clk,
		log:              log,
	}
}

// Track registers a settlement and ensures its currency's poll loop runs.
func (m *Monitor) Track(s *TrackedSettlement) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	s.Status = StatusWatching
	m.tracked[s.TransactionID] = s

	if _, running := m.loops[s.Currency]; !running {
		stopCh := make(chan struct{})
		m.loops[s.Currency] = stopCh
		m.wg.Add(1)
		go m.pollLoop(s.Currency, stopCh)
	}

	m.log.Info("Tracking settlement",
		zap.String("transaction_id", s.TransactionID),
		zap.String("currency", s.Currency),
		zap.String("expected", s.Expected.String()),
	)
}

// StopTracking removes a settlement early, e.g. on caller cancellation.
func (m *Monitor) StopTracking(transactionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracked, transactionID)
}

func (m *Monitor) pollLoop(currency string, stopCh chan struct{}) {
	defer m.wg.Done()

	ticker := m.clk.Ticker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if done := m.poll(currency); done {
				return
			}
		case <-stopCh:
			return
		}
	}
}

// poll runs one cycle for a currency. Returns true when nothing of that
// currency remains tracked and the loop should exit.
func (m *Monitor) poll(currency string) bool {
	m.mu.Lock()
	batch := make([]*TrackedSettlement, 0)
	for _, s := range m.tracked {
		if s.Currency == currency {
			batch = append(batch, s)
		}
	}
	if len(batch) == 0 {
		delete(m.loops, currency)
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.pollInterval)
	defer cancel()

	for _, s := range batch {
		m.check(ctx, s)
	}
	return false
}

func (m *Monitor) check(ctx context.Context, s *TrackedSettlement) {
	now := m.clk.Now()

	// Expiry wins regardless of how many confirmations have arrived.
	if now.After(s.ExpiresAt) {
		m.finish(s, StatusExpired, queue.SubjectSettlementExpired, decimal.Zero, s.Confirmations)
		return
	}

	status, err := m.provider.AddressStatus(ctx, s.Currency, s.Address)
	if err != nil {
		m.log.Warn("Ledger query failed",
			zap.String("transaction_id", s.TransactionID),
			zap.String("currency", s.Currency),
			zap.Error(err),
		)
		return
	}

	m.mu.Lock()
	tracked, still := m.tracked[s.TransactionID]
	if !still {
		m.mu.Unlock()
		return
	}
	tracked.Confirmations = status.Confirmations
	m.mu.Unlock()

	if status.Confirmations < m.requiredFor(s.Currency) {
		return
	}

	if m.withinTolerance(s.Currency, s.Expected, status.Received) {
		m.finish(s, StatusConfirmed, queue.SubjectSettlementConfirmed, status.Received, status.Confirmations)
		return
	}

	// Amount off: flag it but keep watching, more funds may still arrive
	// and the discrepancy needs eyes either way.
	m.mu.Lock()
	first := tracked.Status != StatusMismatched
	tracked.Status = StatusMismatched
	m.mu.Unlock()

	if first {
		m.emit(queue.SubjectSettlementMismatch, s, status.Received, status.Confirmations)
		m.log.Warn("Settlement amount mismatch",
			zap.String("transaction_id", s.TransactionID),
			zap.String("expected", s.Expected.String()),
			zap.String("observed", status.Received.String()),
		)
	}
}

// finish emits a terminal event and removes the settlement exactly once.
func (m *Monitor) finish(s *TrackedSettlement, status Status, subject string, observed decimal.Decimal, confirmations int) {
	m.mu.Lock()
	if _, still := m.tracked[s.TransactionID]; !still {
		m.mu.Unlock()
		return
	}
	s.Status = status
	delete(m.tracked, s.TransactionID)
	m.mu.Unlock()

	m.emit(subject, s, observed, confirmations)
	m.log.Info("Settlement finished",
		zap.String("transaction_id", s.TransactionID),
		zap.String("status", string(status)),
		zap.Int("confirmations", confirmations),
	)
}

func (m *Monitor) emit(subject string, s *TrackedSettlement, observed decimal.Decimal, confirmations int) {
	event := Event{
		TransactionID: s.TransactionID,
		Currency:      s.Currency,
		Address:       s.Address,
		Expected:      s.Expected,
		Observed:      observed,
		Confirmations: confirmations,
	}
	data, err := json.Marshal(event)
	if err != nil {
		m.log.Error("Failed to marshal settlement event", zap.Error(err))
		return
	}
	if err := m.sink.Publish(subject, data); err != nil {
		m.log.Error("Failed to publish settlement event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

func (m *Monitor) requiredFor(currency string) int {
	if n, ok := m.required[currency]; ok && n > 0 {
		return n
	}
	return 6
}

// withinTolerance absorbs network fee rounding. Tolerance is a fraction
// of the expected amount, overridable per currency.
func (m *Monitor) withinTolerance(currency string, expected, observed decimal.Decimal) bool {
	tol := m.defaultTolerance
	if t, ok := m.tolerances[currency]; ok && t > 0 {
		tol = t
	}
	allowed := expected.Mul(decimal.NewFromFloat(tol))
	return observed.Sub(expected).Abs().LessThanOrEqual(allowed)
}

// Cleanup stops every polling loop and clears state. Used at shutdown.
func (m *Monitor) Cleanup() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for currency, stopCh := range m.loops {
		close(stopCh)
		delete(m.loops, currency)
	}
	m.tracked = make(map[string]*TrackedSettlement)
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info("Settlement monitor stopped")
}
