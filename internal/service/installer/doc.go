// Package installer implements the pipeline that assembles the composite
// install directory: it resolves the latest release of every configured
// repository, downloads and verifies the selected asset, extracts it into a
// staging area, and merges the staged trees into the shared output directory
// in configured order.
//
// Staging runs concurrently under a bounded worker limit. Merges are applied
// one at a time, in configuration order, so components listed later
// deterministically overwrite files from components listed earlier.
package installer
