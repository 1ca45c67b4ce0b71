// Package backoff provides delay strategies and context-aware sleeping for
// retry mechanisms.
package backoff
