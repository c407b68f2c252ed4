// Package engine tracks the progress of one execution run over a wave
// scheduled plan. ExecutionState is the ledger; Driver is its single owner
// when notifications arrive concurrently, dispatching each wave's runnable
// tasks to a delegation target and advancing waves as they drain.
package engine
