// Package healthcheck answers the gateway's health polls.
//
// Two variants share the /api/v1/health path. Liveness reports only that the
// process is serving. Readiness additionally probes the backend once, with a
// hard deadline, and folds the outcome into the payload. Both always answer
// 200 so that an orchestrator never restarts the frontend because of a
// backend fault.
package healthcheck
