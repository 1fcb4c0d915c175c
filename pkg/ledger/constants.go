package ledger

const (
	operationDischarge   = "discharge"
	operationPayDebt     = "pay_debt"
	operationAssignLimit = "assign_credit_limit"
	operationAdjustment  = "adjustment"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	reasonCreditLimitAssigned = "credit limit assigned"
)
