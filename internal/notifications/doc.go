// Package notifications announces finished filter and merge runs.
//
// The default implementation publishes to ntfy using the topic configured in
// the [notifications] section and degrades to a no-op when no topic is set.
// Delivery failures are reported to the caller and never change a run's
// outcome.
package notifications
