// Package config defines installer settings and provides helpers to load,
// validate and save them in YAML format.
//
// The Config type lists the tracked repositories, the output directory the
// composite install is merged into, and the network/concurrency limits used
// by the pipeline.
package config
