// Package dispatch turns descriptor files dropped into the input directory
// into launcher runs, one at a time.
//
// Each creation event gets its own handler goroutine:
//
//	trigger.Parse -> history Record -> ReadWhenReady -> descriptor.Parse
//	  -> Gate -> arm completion watcher -> Launch -> await marker -> Complete
//
// Reading and parsing happen outside the gate, so a trigger can be validated
// while another job runs. Only launch plus the completion wait is serialized.
//
// Error handling:
//   - Invalid UUID in the file name → discarded, never recorded
//   - Identifier already recorded → ignored
//   - Unreadable or invalid descriptor → rejected status
//   - Missing launcher or failed start → failed status
//   - Marker not seen within output.timeout (when set) → timed_out status
//   - Shutdown while waiting → abandoned status
//   - Marker seen → succeeded status
//
// Without output.timeout a job that never writes its marker holds the gate
// until shutdown.
package dispatch
