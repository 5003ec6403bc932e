// Command doctools recognises text in images and PDFs and converts between
// PDF, Word and image formats.
//
// Recognition and conversion work runs on a background worker loop; the
// command goroutine acts as the host loop that receives completions, so the
// process exits only after the worker has run its exit hooks and drained.
package main
