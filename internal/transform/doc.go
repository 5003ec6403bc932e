// Package transform converts between PDF, Word and image files.
//
// pdf2img renders pages with pdftoppm, pdf2docx and docx2pdf drive a headless
// LibreOffice, and img2pdf is implemented natively. A Transformer expands
// files and directories into jobs on a jobqueue.Runner so conversions overlap
// while the queue bounds how many are pending.
package transform
