// Package command implements send-and-verify execution of spa property
// writes: every command is sent to the cloud, polled until the device
// reports the wanted value, and rolled back to the prior state when
// confirmation never arrives.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│  MQTT write topics / sweep engine                       │
//	│        │                                                │
//	│        ▼                                                │
//	│  ┌──────────┐   in-flight key (target, property)        │
//	│  │ Executor │──────────────────────────────────────┐    │
//	│  └────┬─────┘                                      │    │
//	│       │ send (≤3 attempts) ── wait ── poll ── ...  │    │
//	│       ▼                                            ▼    │
//	│  ┌──────────┐                              ┌──────────┐ │
//	│  │  Policy  │ STATIC / DYNAMIC profiles    │ registry │ │
//	│  └──────────┘                              └──────────┘ │
//	└─────────────────────────────────────────────────────────┘
//
// # Verification Profiles
//
// Light modes fall into two classes with different confirmation
// behaviour, resolved by closed lookup rather than string matching:
//
//   - STATIC (solid colours): the device reports mode and intensity
//     exactly as written. Short initial wait, frequent polls, both
//     fields compared.
//   - DYNAMIC (wheels, party, RGB program): the device animates and
//     reports a moving intensity, so only the mode is compared, after a
//     longer initial wait.
//
// OFF is its own case: only the mode is compared, because intensity
// reads as whatever the light last held.
//
// # Outcomes
//
// Every Execute call ends in exactly one terminal status: CONFIRMED,
// ROLLED_BACK (verification failed and the prior state was restored),
// or FAILED (the send never landed, or no prior state existed to
// restore). A ValidationError from the gateway fails immediately;
// TransportErrors are retried a bounded number of times.
//
// # Concurrency
//
// Commands are serialised per (target, property) key. A second command
// for a key already in flight is rejected with ConcurrentAccessError
// rather than queued, so callers can surface the conflict immediately.
package command
