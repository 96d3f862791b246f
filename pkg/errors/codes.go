// Package errors defines error codes and categories for TrackHub
package errors

// Error categories
const (
	// ConfigurationCategory covers configuration loading and validation (CON)
	ConfigurationCategory = "CON"

	// IntegrationCategory covers integration registration, startup and delivery (INT)
	IntegrationCategory = "INT"

	// MessageCategory covers call arguments and envelopes (MSG)
	MessageCategory = "MSG"

	// MiddlewareCategory covers middleware stages (MID)
	MiddlewareCategory = "MID"

	// StorageCategory covers storage tiers (STO)
	StorageCategory = "STO"

	// SystemCategory covers everything else (SYS)
	SystemCategory = "SYS"
)

// Configuration error codes
const (
	ErrInvalidConfig    Code = "CON001" // Invalid configuration
	ErrConfigLoadFailed Code = "CON002" // Failed to load configuration
)

// Integration error codes
const (
	ErrInvalidIntegration Code = "INT001" // Descriptor without name or factory
	ErrIntegrationExists  Code = "INT002" // Name already registered
	ErrIntegrationInit    Code = "INT003" // Initialize failed
	ErrIntegrationInvoke  Code = "INT004" // Delivery failed
	ErrIntegrationPanic   Code = "INT005" // Integration panicked
)

// Message error codes
const (
	ErrUnknownMethod    Code = "MSG001" // Unknown call method
	ErrInvalidArguments Code = "MSG002" // Call arguments could not be resolved
	ErrMessageEncoding  Code = "MSG003" // Envelope could not be encoded
)

// Middleware error codes
const (
	ErrMiddlewareFailed  Code = "MID001" // A stage returned an error
	ErrMiddlewareTimeout Code = "MID002" // A stage exceeded its deadline
)

// Storage error codes
const (
	ErrStorageUnavailable Code = "STO001" // Tier could not be reached
)

// System error codes
const (
	ErrInternal Code = "SYS001" // Internal error
	ErrClosed   Code = "SYS002" // Component already closed
)

// Category returns the category prefix of a code.
func (c Code) Category() string {
	if len(c) < 3 {
		return SystemCategory
	}
	return string(c[:3])
}
