// Package gateway defines the remote spa gateway: the narrow interface the
// rest of the system uses to read spa state and write property changes,
// together with the error taxonomy and the global rate-limit guard shared
// by every call site.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────┐
//	│                  command / sweep / poller            │
//	│                          │                           │
//	│                          ▼                           │
//	│                    ┌───────────┐                     │
//	│                    │   Guard   │  global throttle    │
//	│                    └─────┬─────┘  backoff            │
//	│                          ▼                           │
//	│                    ┌───────────┐                     │
//	│                    │  Gateway  │  interface          │
//	│                    └─────┬─────┘                     │
//	│                          ▼                           │
//	│                    ┌───────────┐                     │
//	│                    │  Client   │  cloud HTTPS API    │
//	│                    └───────────┘                     │
//	└──────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Gateway: read state, write properties
//   - TargetID: addresses one component (kind + zone)
//   - Snapshot: full device reading, one Properties map per component
//   - Guard: exponential backoff shared across all gateway callers
//
// # Error Taxonomy
//
// Gateway calls fail in exactly four ways, and callers branch on the
// class, not the message:
//
//   - ValidationError: the request itself is malformed; never retried
//   - TransportError: timeout or transient server failure; retried briefly
//   - ThrottledError: rate-limit rejection; triggers global backoff
//   - plain errors: programming mistakes, surfaced as-is
//
// # Thread Safety
//
// Client and Guard are safe for concurrent use. Snapshot and Properties
// values returned by the client are fresh copies owned by the caller.
package gateway
