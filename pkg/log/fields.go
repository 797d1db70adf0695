package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware/auth.go keys)
	FieldUserID   = "user_id"
	FieldNickname = "nickname"

	// Delivery
	FieldReceiver  = "receiver"
	FieldRoomID    = "room_id"
	FieldSessionID = "session_id"
	FieldChannel   = "channel"
	FieldEventID   = "event_id"
	FieldEventType = "event_type"
	FieldSeq       = "seq"

	// Service
	FieldService  = "service"
	FieldInstance = "instance_id"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
