// Package loop bridges a single-threaded host loop (the CLI or a UI toolkit)
// and a dedicated worker loop that runs asynchronous work.
//
// Submit hands a task to the worker and returns a Future that any goroutine
// can wait on, or that delivers its outcome back onto the host through
// Future.OnDone. CallSoon, CallLater, and CallAt schedule callbacks on the
// worker goroutine; RunBlocking runs blocking calls on a bounded executor.
//
// Shutdown is ordered and happens once: exit hooks run in registration order,
// pending tasks are cancelled with ErrTaskCancelled, the executor drains, and
// only then does Done close. Host.Run joins the worker before returning so no
// background work outlives the process.
package loop
