// Package webhook is the inbound delivery surface. It terminates HTTP
// deliveries from the external event source, authenticates them with an
// HMAC signature, rate-limits per source, normalizes the payload into an
// event.Event, and hands it to the engine. Redeliveries are absorbed by
// the engine's delivery audit trail, so the handler always acknowledges
// duplicates.
package webhook
