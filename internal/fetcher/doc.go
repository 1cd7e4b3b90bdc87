// Package fetcher downloads release assets to temporary files.
//
// Downloads are streamed to disk to bound peak memory, transient network
// failures are retried with backoff, and the received bytes are verified
// against the declared size and content digest before the asset is handed
// to the extractor.
package fetcher
