// Package core orchestrates catalog imports.
//
// A Service owns the session lifecycle. Each import moves through four
// stages, every one of them a task on a queue:
//
//	analyze   file structure, sheet choice, automatic column mapping
//	dry_run   sample validation, catalog predictions, quality score
//	process   chunked transactional row processing
//	finalize  report and completion
//
// A stage enqueues its successor only after its own work is saved. The
// session pauses in awaiting_mapping when the automatic mapping is not
// trusted, and in dry_run when the sample scores below the auto-advance
// threshold. SubmitMapping and StartProcessing resume it.
//
// Background sessions run on the queue given to StartWorkers. Other
// sessions, and every session when no queue is attached, run inline:
// CreateSession returns once the import has finished or paused.
//
// Stage errors marked with queue.Transient are retried by the queue; any
// other error fails the session with the error text as reason. Row errors
// never fail a session; they are counted and logged on it.
package core
