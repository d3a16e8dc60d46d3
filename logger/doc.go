// Package logger provides structured logging for loadguard using zerolog.
//
// It supports JSON and console output, log level configuration, and
// component-scoped loggers with map-based structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.WithComponent("resilience")
//	log.Info("circuit opened", logger.Fields(logger.FieldState, "open"))
package logger
