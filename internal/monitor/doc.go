// Package monitor defines the domain types, storage verbs, and error taxonomy
// shared by the fetcher, adapters, and job processors of the source monitor.
package monitor
