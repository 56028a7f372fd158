// Package jobs runs long agent and tool invocations as supervised,
// cancellable background work detached from the request that started them.
// Cancellation is cooperative: workloads observe their context at
// checkpoints, and a workload past its last checkpoint completes normally.
package jobs
