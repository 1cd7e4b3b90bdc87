// Package release contains core domain types for the installation pipeline.
//
// It defines RepositorySpec (one tracked upstream project), Release and Asset
// (what the forge reports for the latest published version), Descriptor (the
// resolution result for one run), and the result types the orchestrator hands
// back to the caller.
package release
