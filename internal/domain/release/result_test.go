package release

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPipelineResultOutcome verifies folding of per-repository states into
// the overall run state, with skips counting as successes.
func TestPipelineResultOutcome(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		statuses []Status
		want     Outcome
	}{
		{name: "all succeeded", statuses: []Status{StatusSucceeded, StatusSucceeded}, want: AllSucceeded},
		{name: "skips count as success", statuses: []Status{StatusSkipped, StatusSucceeded}, want: AllSucceeded},
		{name: "one failure", statuses: []Status{StatusSucceeded, StatusFailed, StatusSucceeded}, want: PartiallyFailed},
		{name: "failure among skips", statuses: []Status{StatusSkipped, StatusFailed}, want: PartiallyFailed},
		{name: "all failed", statuses: []Status{StatusFailed, StatusFailed}, want: AllFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result := &PipelineResult{}
			for _, status := range tc.statuses {
				result.Repositories = append(result.Repositories, RepositoryResult{Status: status})
			}

			require.Equal(t, tc.want, result.Outcome())
		})
	}
}
