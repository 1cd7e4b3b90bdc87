package installer

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/mitchellh/go-ps"
)

// ErrOutputInUse is returned when files in the output directory belong to
// processes that are currently running.
var ErrOutputInUse = errors.New("output directory is in use by running processes")

// runningOutputExecutables returns the names of running processes whose
// executable name matches a file already present in the output tree.
// Overwriting a running binary mid-merge leaves the install in a state
// neither version describes, so the run refuses to proceed unless forced.
func runningOutputExecutables(outputDir string) ([]string, error) {
	outputFiles := make(map[string]struct{})

	err := filepath.WalkDir(outputDir, func(_ string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !entry.IsDir() {
			outputFiles[entry.Name()] = struct{}{}
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	if len(outputFiles) == 0 {
		return nil, nil
	}

	processList, err := ps.Processes()
	if err != nil {
		return nil, err
	}

	var (
		thisProcessID = os.Getpid()
		seen          = make(map[string]struct{})
		matches       []string
	)

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		name := process.Executable()
		if _, ok := outputFiles[name]; !ok {
			continue
		}

		if _, ok := seen[name]; ok {
			continue
		}

		seen[name] = struct{}{}

		matches = append(matches, name)
	}

	sort.Strings(matches)

	return matches, nil
}
