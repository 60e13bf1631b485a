// Package handler implements the gateway's request proxy and the HTTP
// middleware shared by every route.
//
// ProxyHandler resolves the upstream URL through the rewrite table, consults
// the optional circuit breaker and forwards the request unchanged apart from
// its URL and X-Forwarded-* headers.
package handler
