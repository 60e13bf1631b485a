// Package config handles loading and parsing of configuration from YAML files,
// dotenv files and environment variables. It defines the application
// configuration structure including the listen address, the backend base URL
// (BACKEND_INTERNAL_URL), the health probe variant, the optional proxy circuit
// breaker and the metrics endpoint.
package config
