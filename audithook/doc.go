// Package audithook is a Foreman extension that bridges lifecycle events
// to an immutable audit trail backend.
//
// Every instance, signal, lock, and archival lifecycle hook emits a
// structured audit event through the [Recorder] interface. The extension
// assigns appropriate severity levels (info for normal operations,
// warning for dropped signals and reaped locks, critical for terminal
// failures and ambiguous correlation) and rich metadata (pipeline, work
// unit, stage, elapsed time, errors).
//
// Archive purges always flow through this extension when it is
// registered, giving retention enforcement a durable compliance trail.
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionInstanceFailed,
//	        audithook.ActionSignalAmbiguous,
//	        audithook.ActionArchivePurged,
//	    ),
//	)
package audithook
