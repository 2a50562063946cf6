// Package capindex implements the capability index: exact capability-name
// lookup plus semantic description search delegated to an injected
// EmbeddingIndex, with a degraded fallback when none is configured.
package capindex
