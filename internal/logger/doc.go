// Package logger wraps zap for the composite installer:
//   - a global sugared logger with a sane console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Pipeline stages accept a context and extract the logger from it, so
// per-repository fields attached once flow through every phase.
package logger
