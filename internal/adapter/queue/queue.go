package queue

// Subjects the core publishes on. Consumers (ledger, reconciliation,
// analytics) subscribe to these from outside the core.
const (
	SubjectAttemptSettled      = "payments.attempt.settled"
	SubjectAttemptFailed       = "payments.attempt.failed"
	SubjectAttemptChallenge    = "payments.attempt.challenge"
	SubjectSettlementConfirmed = "payments.settlement.confirmed"
	SubjectSettlementMismatch  = "payments.settlement.amount_mismatch"
	SubjectSettlementExpired   = "payments.settlement.expired"
)

// MessageQueue defines the interface for a message queue adapter.
type MessageQueue interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte) error) error
	Close() error
}
