// Package logger provides structured logging with configurable log levels.
// It wraps log/slog: production emits JSON, other environments use a tint
// text handler for local readability.
package logger
