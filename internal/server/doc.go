// Package server implements the HTTP side of the iothook webhook receiver.
//
// This package provides:
//   - The POST /webhook endpoint with canonical-string HMAC verification
//   - Read-only views of the event store (/events, /stats, /) and /clear
//   - The delivery audit log view (/deliveries) and Prometheus metrics
//   - Per-IP rate limiting and structured request logging
//
// The server integrates with other packages:
//   - internal/security: signature verification
//   - internal/events: parsing and the idempotent event store
//   - internal/audit: SQLite delivery audit log (optional)
//
// A delivery is answered only after the store has decided whether it is new,
// so a 200 means the event is stored or was already stored.
package server
