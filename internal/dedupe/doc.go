// Package dedupe remembers recently seen keys for a bounded time window.
// The relay uses it to recognise late replies to requests it already answered.
package dedupe
