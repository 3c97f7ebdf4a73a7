// Package notifications delivers batch milestones via ntfy.
//
// The default implementation publishes to the topic configured under
// [notifications] and degrades to a no-op when no topic is set. The batch and
// errors toggles silence whole groups of messages without touching callers.
package notifications
