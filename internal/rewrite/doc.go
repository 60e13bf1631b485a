// Package rewrite implements the static routing table that redirects inbound
// API paths onto the backend service. Rules are evaluated in order and the
// first match wins; each source pattern ends in a single wildcard whose
// captured remainder is substituted into the destination.
package rewrite
