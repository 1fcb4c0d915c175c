package ledger

import (
	"context"

	"github.com/remitops/minorista-ledger/pkg/money"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation string
	AccountID AccountID
	Amount    money.Money
	Reference string
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// MutationNotifier observes committed ledger mutations. Subscribers use it to
// invalidate cached balance views; the ledger owes them nothing further.
type MutationNotifier interface {
	NotifyMutation(ctx context.Context, event MutationEvent)
}

// MutationEvent describes one committed mutation of an account.
type MutationEvent struct {
	Operation       string      `json:"operation"`
	AccountID       string      `json:"account_id"`
	EntryIDs        []string    `json:"entry_ids"`
	Amount          money.Money `json:"amount"`
	OccurredUnixUTC int64       `json:"occurred_unix_utc"`
}

// WithMutationNotifier wires a notifier invoked after successful mutations.
func WithMutationNotifier(notifier MutationNotifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}
