// Package batch drives a resumable pass over an ordered keyword list.
//
// A run selects its work set from the checkpoint log, then resolves one
// keyword at a time: the cooldown monitor may suspend the run after a streak
// of failures, the executor retries the external runner with exponential
// backoff and verifies the yield on disk, and exactly one terminal record is
// written to the log before the next keyword starts.
package batch
