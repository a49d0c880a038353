package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Broadcast domain
	FieldRoomID     = "room_id"
	FieldVideoID    = "video_id"
	FieldConsumerID = "consumer_id"
	FieldUsername   = "username"
	FieldInvoiceID  = "invoice_id"
	FieldVariant    = "variant"
	FieldAttempt    = "attempt"

	// Process
	FieldService   = "service"
	FieldComponent = "component"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
