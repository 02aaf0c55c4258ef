// Package logging provides structured logging for momcore.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same default fields (service, version) and a per-component tag.
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
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("session started", "namespace", cfg.Session.Namespace)
//	dir.SetLogger(logger.Component("directory"))
//
// # Security
//
// Never log broker passwords or tokens. Private message bodies are logged
// only at debug level.
package logging
