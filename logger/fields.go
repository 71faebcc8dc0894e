package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across Crewline.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldTenantID    = "tenant_id"
	FieldTemplateID  = "template_id"
	FieldJobID       = "job_id"
	FieldClientID    = "client_id"
	FieldEquipmentID = "equipment_id"
	FieldRequestID   = "request_id"

	// Components
	FieldComponent = "component"
	FieldService   = "service"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"

	// Sweep reporting
	FieldGenerated          = "generated"
	FieldTemplatesProcessed = "templates_processed"
	FieldScheduledDate      = "scheduled_date"
	FieldNextOccurrence     = "next_occurrence"
	FieldPattern            = "pattern"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldStartTime  = "start_time"
	FieldEndTime    = "end_time"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts and sizes
	FieldCount     = "count"
	FieldBatchSize = "batch_size"

	// Status
	FieldStatus  = "status"
	FieldHealthy = "healthy"
	FieldState   = "state"

	// Network
	FieldAddress = "address"
	FieldPort    = "port"
)

// Context keys for propagating logging context
type contextKey string

const (
	tenantIDKey  contextKey = "logger_tenant_id"
	requestIDKey contextKey = "logger_request_id"
	componentKey contextKey = "logger_component"
)

// WithTenantID adds a tenant ID to the context for logging
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if tenantID, ok := ctx.Value(tenantIDKey).(string); ok && tenantID != "" {
		fields = append(fields, FieldTenantID, tenantID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns a logger with fields extracted from context.
func LoggerFromContext(ctx context.Context) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return Logger
	}
	return Logger.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Runner struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewRunner() *Runner {
//	    return &Runner{
//	        logger: logger.ComponentLogger("rota.runner"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
// Use for sub-operations that need extra context fields.
//
// Example:
//
//	tplLogger := logger.ChildLogger(baseLogger, "template_id", tpl.ID)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
