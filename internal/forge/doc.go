// Package forge resolves the latest published release of a tracked
// repository on the code forge and selects the asset to download.
//
// The GitHub implementation wraps the go-github client. Forge failures are
// classified into typed errors so callers can distinguish permanent
// conditions from transient ones worth retrying.
package forge
