package ledger

import (
	"context"
	"errors"
)

// Account returns the current materialized projection for an account.
// Display layers read this; they never recompute balances themselves.
func (service *Service) Account(requestContext context.Context, accountID AccountID) (Account, error) {
	return service.store.GetAccount(requestContext, accountID)
}

// ListEntries lists transaction log entries newest first, before a cutoff time.
func (service *Service) ListEntries(requestContext context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	return service.store.ListEntries(requestContext, accountID, beforeUnixUTC, limit)
}

func isAccountNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
