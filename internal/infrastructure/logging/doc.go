// Package logging provides structured logging for devicelive.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Redaction of token, password, secret and authorization attributes
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("live session created", "device_id", id, "token_fp", auth.Fingerprint(token))
//
// # Security
//
// Redaction is a safety net. Log a fingerprint of a credential, never the
// credential itself.
package logging
