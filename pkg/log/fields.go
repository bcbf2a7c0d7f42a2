package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Avatar pipeline
	FieldName      = "name"
	FieldSize      = "size"
	FieldSourceURL = "source_url"
	FieldCacheKey  = "cache_key"
	FieldCache     = "cache"

	// Service
	FieldService = "service"
)
