package middleware

import (
	"context"

	"github.com/kart-io/trackhub/pkg/logger"
	"github.com/kart-io/trackhub/pkg/message"
)

// LoggingConfig represents configuration for the logging stage
type LoggingConfig struct {
	Logger logger.Logger
	// LogPayloads adds properties and traits to each record. They may
	// carry personal data.
	LogPayloads bool
}

// Logging records every envelope passing through a chain and forwards it
// unchanged.
type Logging struct {
	BaseStage
	logger      logger.Logger
	logPayloads bool
}

// NewLogging creates a new logging stage
func NewLogging(config LoggingConfig) *Logging {
	return &Logging{
		BaseStage:   NewBaseStage("logging"),
		logger:      logger.OrDiscard(config.Logger),
		logPayloads: config.LogPayloads,
	}
}

// Handle implements the Stage interface
func (l *Logging) Handle(_ context.Context, msg *message.Envelope, scope Scope) (Result, error) {
	fields := []any{
		"chain", scope.Kind,
		"message_id", msg.MessageID,
		"type", msg.Type,
	}
	if scope.Integration != "" {
		fields = append(fields, "integration", scope.Integration)
	}
	if msg.Event != "" {
		fields = append(fields, "event", msg.Event)
	}
	if l.logPayloads {
		if len(msg.Properties) > 0 {
			fields = append(fields, "properties", msg.Properties)
		}
		if len(msg.Traits) > 0 {
			fields = append(fields, "traits", msg.Traits)
		}
	}

	l.logger.Info("Message passing through middleware", fields...)
	return Forward(msg), nil
}
