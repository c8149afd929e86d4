// Package notifier delivers relayed posts to the configured chat.
//
// Delivery is synchronous: the relay needs the outcome of each send before it
// decides how far to move an account's cursor. The service paces sends with a
// token bucket, retries transient failures with jittered exponential backoff
// (honouring flood-wait hints from the transport) and publishes the outcome
// of every message on the event bus. The delivery journal subscribes to those
// events; the service itself only keeps outcome counters.
package notifier
