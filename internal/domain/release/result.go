package release

// Stage names the pipeline phase a repository was in when it failed.
type Stage string

// Pipeline stages in execution order.
const (
	StageResolve Stage = "resolve"
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StageMerge   Stage = "merge"
)

// ErrorKind classifies a repository failure for the caller.
type ErrorKind string

// Failure classifications reported in a RepositoryResult.
const (
	KindNotFound          ErrorKind = "not_found"
	KindAssetSelection    ErrorKind = "asset_selection"
	KindForgeUnavailable  ErrorKind = "forge_unavailable"
	KindRateLimited       ErrorKind = "rate_limited"
	KindIntegrity         ErrorKind = "integrity"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindPathTraversal     ErrorKind = "path_traversal"
	KindExtraction        ErrorKind = "extraction"
	KindMergeIO           ErrorKind = "merge_io"
	KindCanceled          ErrorKind = "canceled"
	KindUnknown           ErrorKind = "unknown"
)

// Status is the terminal state of one repository's sub-pipeline.
type Status string

// Terminal repository states.
const (
	StatusSkipped   Status = "skipped"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome is the terminal state of the whole run.
type Outcome string

// Terminal pipeline outcomes.
const (
	AllSucceeded    Outcome = "all_succeeded"
	PartiallyFailed Outcome = "partially_failed"
	AllFailed       Outcome = "all_failed"
)

// RepositoryResult is the per-repository outcome of a run.
type RepositoryResult struct {
	// Spec is the repository this result belongs to.
	Spec RepositorySpec
	// Status is the terminal state of the sub-pipeline.
	Status Status
	// Version is the installed (or already current) release tag. Empty when
	// the sub-pipeline failed before resolution completed.
	Version string
	// Stage is the phase that failed. Empty unless Status is StatusFailed.
	Stage Stage
	// Kind classifies the failure. Empty unless Status is StatusFailed.
	Kind ErrorKind
	// Err is the underlying failure. Nil unless Status is StatusFailed.
	Err error
	// Overwritten lists relative paths in the output tree that this
	// component's merge replaced.
	Overwritten []string
}

// PipelineResult aggregates per-repository outcomes for one run.
type PipelineResult struct {
	// Repositories holds one result per configured spec, in configured order.
	Repositories []RepositoryResult
}

// Failed returns the results of repositories whose sub-pipeline failed.
func (r *PipelineResult) Failed() []RepositoryResult {
	var failed []RepositoryResult

	for _, repo := range r.Repositories {
		if repo.Status == StatusFailed {
			failed = append(failed, repo)
		}
	}

	return failed
}

// Outcome folds the per-repository states into the overall run state.
// Skipped repositories count as successes: the composite install is current.
func (r *PipelineResult) Outcome() Outcome {
	failures := len(r.Failed())

	switch {
	case failures == 0:
		return AllSucceeded
	case failures == len(r.Repositories):
		return AllFailed
	default:
		return PartiallyFailed
	}
}
