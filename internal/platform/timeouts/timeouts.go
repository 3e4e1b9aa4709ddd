// Package timeouts defines shared timeout constants used across services.
package timeouts

import "time"

// LedgerSubmit caps the wait for one ledger mutation to be confirmed.
const LedgerSubmit = 5 * time.Second

// LedgerQuery caps a single read against the ledger views.
const LedgerQuery = 2 * time.Second

// StoreCall caps one round trip to the content-addressed store.
const StoreCall = 30 * time.Second

// Unpin caps one best-effort unpin attempt made by the janitor.
const Unpin = 10 * time.Second

// SubscriptionPoll is how often a journal subscription checks for new events
// when no local commit notification arrives.
const SubscriptionPoll = time.Second

// Shutdown limits how long servers wait for in-flight work during graceful
// shutdown.
const Shutdown = 5 * time.Second

// HealthProbe caps how long a health check waits for SERVING.
const HealthProbe = 5 * time.Second
