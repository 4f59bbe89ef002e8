// Package broadcast fans a published news item out to every subscribed
// endpoint at most once.
//
// Pipeline
//
// Broadcast is the sole entry point: it loads the current subscriptions,
// matches the item's tags against them, strips endpoints the delivery
// ledger already shows as delivered, and dispatches the remainder
// concurrently with bounded in-flight sends, a global rate limit, and
// per-endpoint retry.
//
// Delivery semantics
//
// Correctness comes from the ledger's atomic insert-if-absent, not from
// serializing broadcasts: a successful send records a delivered row before
// the endpoint's attempt is reported complete, and a duplicate record
// attempt is a no-op. Re-invoking Broadcast for the same item is therefore
// a safe recovery action. A failure on one endpoint never blocks delivery
// to any other, and caller cancellation stops the wait for the aggregated
// outcome, not deliveries already in flight.
package broadcast
