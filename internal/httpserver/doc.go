// Package httpserver wraps net/http's server with address validation and a
// bounded graceful shutdown.
package httpserver
