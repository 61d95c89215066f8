// Package worker launches the external research worker for one job.
//
// Each invocation spawns the configured executable with the job's parameters as
// positional arguments, captures stdout and stderr in full, and enforces a
// wall-clock deadline. The outcome is always a job.Result; execution errors are
// never returned as Go errors.
//
// Argument layout:
//   - label goal sources-json [metadata-json]
//   - ticker topic goal sources-json metadata-json, when ticker and topic differ
//
// Timeout handling:
//   - The child runs in its own process group
//   - When the deadline expires, SIGTERM is sent to the whole group
//   - After the grace period, SIGKILL is sent to the group
//   - The group is swept with SIGKILL once the invocation ends, so no descendant
//     outlives it
//
// Outcome mapping:
//   - start failure -> KindSpawn with the OS error text
//   - deadline or caller cancellation -> KindTimeout
//   - non-zero exit -> KindWorkerFailure, exit code preserved
//   - zero exit -> success; the final JSON line of stdout becomes the summary.
//     With RequireSummary a missing summary is KindResultParse.
package worker
