package log

// Common field names for structured logging.
const (
	FieldComponent     = "component"
	FieldError         = "error"
	FieldTransactionID = "transaction_id"
	FieldBudgetID      = "budget_id"
	FieldPage          = "page"
)

// Components names the binaries' subsystems.
const (
	ComponentCLI    = "cli"
	ComponentMirror = "mirror"
	ComponentEvents = "events"
)
