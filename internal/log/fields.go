package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldActingUser  = "acting_user"
	FieldSponsorID   = "sponsor_id"
	FieldRecipientID = "recipient_id"
	FieldGrantID     = "grant_id"
	FieldGrantKind   = "grant_kind"
	FieldPeriodID    = "period_id"
	FieldEntryID     = "entry_id"
	FieldYearMonth   = "year_month"
	FieldAmountCents = "amount_cents"
	FieldStatus      = "status"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentLedger      = "ledger"
	ComponentPool        = "pool"
	ComponentEligibility = "eligibility"
	ComponentRisk        = "risk"
	ComponentArchive     = "archive"
	ComponentGrants      = "grants"
	ComponentStorage     = "storage"
	ComponentAMQP        = "amqp"
	ComponentWorker      = "worker"
	ComponentBackend     = "backend"
	ComponentCache       = "cache"
	ComponentMetrics     = "metrics"
	ComponentCLI         = "cli"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpDeduct   = "deduct"
	OpRefund   = "refund"
	OpRollover = "rollover"
	OpReserve  = "reserve"
	OpSkip     = "skip"
	OpRecord   = "record"
	OpReverse  = "reverse"
	OpRequest  = "request"
	OpApprove  = "approve"
	OpDeny     = "deny"
	OpVoid     = "void"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithGrant adds the identifying fields of a grant.
func (f LogFields) WithGrant(kind, grantID, sponsorID, recipientID string, amountCents int64) LogFields {
	f[FieldGrantKind] = kind
	f[FieldGrantID] = grantID
	f[FieldSponsorID] = sponsorID
	f[FieldRecipientID] = recipientID
	f[FieldAmountCents] = amountCents
	return f
}

func (f LogFields) WithActor(user string) LogFields {
	f[FieldActingUser] = user
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
