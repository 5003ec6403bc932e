// Package batch runs many independent jobs in fixed-size concurrency windows
// and maps each job's key to its value or error.
package batch
