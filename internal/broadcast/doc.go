// Package broadcast sends the reminder to every subscriber when a trigger
// fires.
//
// A run works on a snapshot of the subscriber set. Each recipient gets its
// repeat count of messages with a fixed delay between successful sends; the
// first failed send abandons that recipient only. Recipients are served
// concurrently by a bounded worker pool, and persisted state is only read.
package broadcast
