package ledger

const (
	operationGetOrCreateAccount  = "get_or_create_account"
	operationEnsureSystemAccount = "ensure_system_account"
	operationPostTransaction     = "post_transaction"

	operationStatusOK       = "ok"
	operationStatusReplayed = "replayed"
	operationStatusError    = "error"

	minimumEntryCount = 2

	defaultListEntriesLimit = 50
	maxListEntriesLimit     = 200

	// UnknownServiceName is recorded when a caller does not identify itself.
	UnknownServiceName = "unknown"
)
