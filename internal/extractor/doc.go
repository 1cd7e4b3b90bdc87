// Package extractor unpacks downloaded release archives into staging
// directories.
//
// Each extraction targets a fresh, uniquely named temporary directory.
// Archive entries are validated against path traversal before anything is
// written, and a failed extraction removes the whole staging directory so
// no partial tree is ever handed to the merger.
package extractor
