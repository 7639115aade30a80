// Package tasks runs background work that keeps the membership cache warm, with real-time progress reporting.
//
// # Population
//
// [Populator.Start] launches one run per playlist group. A run waits [PopulatorOpts.InitialDelay] so the server
// can come up and a fresh token can settle, then fetches each playlist in order and stores its complete track set.
// Fetches across all runs share one limiter paced at [PopulatorOpts.Pacing].
//
// A playlist that fails to fetch is logged and skipped; the run continues and finishes with a [*PopulationError].
// Nothing is retried.
//
// # Progress Reporting
//
// Runs send [ProgressUpdate] values on an optional channel. Updates use select with default to prevent blocking.
// [Run.Progress] gives the same counters to pollers such as the status endpoint.
package tasks
