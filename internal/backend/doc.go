// Package backend implements the transport to the upstream backend service.
// It forwards rewritten requests through a reverse proxy and tracks in-flight
// requests and response times for the metrics endpoint.
package backend
