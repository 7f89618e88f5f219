// Package schedule provides utilities for cron expression handling and deferred execution.
//
// Cron functions parse and validate cron expressions and compute upcoming run times.
// RunAt executes a function once at a specified time; Every executes it on
// each tick of a cron expression until its context is done.
package schedule
