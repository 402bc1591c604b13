// Package logger creates configured slog.Logger instances with sensible
// defaults for development and production.
//
//	log := logger.New(logger.WithProduction("guardrail"))
//	logger.SetAsDefault(log)
//
// Defaults are production-safe: JSON output at info level on stdout.
// Development mode switches to human-readable text at debug level:
//
//	log := logger.New(logger.WithDevelopment("guardrail"))
package logger
