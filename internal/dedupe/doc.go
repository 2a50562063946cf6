// Package dedupe provides a time-bounded cache of message IDs, used by the
// hub's routing path to recognize a retried send before it reaches a
// receiver's inbox twice.
package dedupe
