// Package scheduler levels a task dependency graph into waves: ordered batches
// whose members have no unmet dependencies on each other and may run in
// parallel. It also validates manual wave overrides, answers which tasks can
// start right now, and estimates how long a wave plan will take. Like the
// graph package it holds no state; callers should run graph.Validate first.
package scheduler
