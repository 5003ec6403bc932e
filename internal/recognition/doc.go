// Package recognition extracts text from images and PDFs.
//
// A Recognizer wraps an Engine (the Baidu general_basic API by default, or a
// local Tesseract engine in builds tagged tesseract) and fans directory inputs
// out through the batch windower, so at most Concurrency requests are in
// flight at a time. Results can be cached in redis keyed by a content hash.
package recognition
