// Package engine runs plugins as subprocesses against a live context tree.
//
// Every process or repair call spawns the plugin entrypoint, writes one JSON
// request on stdin and reads one JSON response from stdout.
//
// Key features:
//   - Spawn-per-call subprocess execution
//   - Timeout enforcement with SIGTERM → 5s grace → SIGKILL
//   - Collectors may add instances; other plugins may patch context or instance data
//   - Plugin log entries become result records
//   - Stderr capture (capped at 64KB), attached to failed results
//
// Error handling:
//   - Every plugin failure (error status, bad output, non-zero exit, timeout)
//     is reported in Result.Error; the engine never fails the caller
//   - Infrastructure failures (entrypoint cannot start) are reported the same way
package engine
