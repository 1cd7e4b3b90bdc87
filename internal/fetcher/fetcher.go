package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/oshokin/composite-installer/internal/domain/release"
	"github.com/oshokin/composite-installer/internal/forge"
	"github.com/oshokin/composite-installer/internal/logger"
	"github.com/oshokin/composite-installer/internal/retry"
)

const (
	// tempFilePattern names the temporary files holding downloaded assets.
	tempFilePattern = "composite-installer-asset-*"

	// integrityAttempts is the total number of full downloads allowed when
	// the received bytes fail verification. A repeated mismatch indicates a
	// corrupt or stale asset, not a transient condition.
	integrityAttempts = 2

	// digestAlgorithmSHA256 is the only digest algorithm the forge publishes.
	digestAlgorithmSHA256 = "sha256"

	// defaultStallTimeout bounds how long a transfer may go without any
	// bytes arriving before the attempt is failed as transient.
	defaultStallTimeout = 30 * time.Second
)

// IntegrityError reports that the downloaded bytes do not match the asset's
// declared size or content digest.
type IntegrityError struct {
	// Asset is the name of the asset that failed verification.
	Asset string
	// Reason describes the failed check ("size", "digest" or
	// "digest algorithm").
	Reason string
	// Expected is the declared value.
	Expected string
	// Actual is the received value.
	Actual string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s mismatch: expected %s, got %s", e.Asset, e.Reason, e.Expected, e.Actual)
}

// DownloadedAsset is a release asset stored in a temporary file.
// The owner must call Discard once the asset has been consumed.
type DownloadedAsset struct {
	// Path is the temporary file holding the asset bytes.
	Path string
	// Descriptor is the resolution result the asset was downloaded for.
	Descriptor *release.Descriptor
}

// Discard removes the temporary file. Safe to call more than once.
func (a *DownloadedAsset) Discard() error {
	if a == nil || a.Path == "" {
		return nil
	}

	err := os.Remove(a.Path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}

	return err
}

// Fetcher downloads release assets.
type Fetcher struct {
	// client performs the downloads. It carries no total timeout: large
	// archives take arbitrarily long. Connection setup and response headers
	// are bounded by the client's transport, mid-body stalls by the
	// fetcher's own watchdog.
	client *http.Client
	// policy drives retries of transient network failures per download.
	policy retry.Policy
	// tempDir is where downloaded files are staged ("" for the system default).
	tempDir string
	// stallTimeout is the longest a transfer may go without receiving any
	// bytes before the attempt is cut off.
	stallTimeout time.Duration
}

// New creates a Fetcher. A nil client falls back to http.DefaultClient.
func New(client *http.Client, policy retry.Policy, tempDir string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}

	return &Fetcher{
		client:       client,
		policy:       policy,
		tempDir:      tempDir,
		stallTimeout: defaultStallTimeout,
	}
}

// Fetch streams the descriptor's asset to a temporary file and verifies it.
// A failed verification discards the file and re-downloads once before
// failing with IntegrityError. On error no file is left behind.
func (f *Fetcher) Fetch(ctx context.Context, desc *release.Descriptor) (*DownloadedAsset, error) {
	var lastErr error

	for attempt := 1; attempt <= integrityAttempts; attempt++ {
		path, err := f.download(ctx, desc)
		if err != nil {
			return nil, err
		}

		if err = f.verify(desc, path); err != nil {
			_ = os.Remove(path)
			lastErr = err

			logger.WarnKV(ctx, "Downloaded asset failed verification",
				"asset", desc.Asset.Name, "attempt", attempt, "error", err)

			continue
		}

		return &DownloadedAsset{
			Path:       path,
			Descriptor: desc,
		}, nil
	}

	return nil, lastErr
}

// download retries the transfer on transient failures and returns the path
// of the completed temporary file.
func (f *Fetcher) download(ctx context.Context, desc *release.Descriptor) (string, error) {
	var path string

	err := f.policy.Do(ctx, func(ctx context.Context) error {
		downloaded, err := f.downloadOnce(ctx, desc)
		if err != nil {
			return err
		}

		path = downloaded

		return nil
	})
	if err != nil {
		return "", err
	}

	return path, nil
}

// downloadOnce performs a single streaming transfer to a fresh temporary file.
// The file is removed on every failure path.
func (f *Fetcher) downloadOnce(ctx context.Context, desc *release.Descriptor) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.Asset.DownloadURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	response, err := f.client.Do(request)
	if err != nil {
		return "", &forge.ForgeUnavailableError{
			Repository: desc.Spec.Slug(),
			Err:        err,
		}
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return "", &forge.ForgeUnavailableError{
			Repository: desc.Spec.Slug(),
			StatusCode: response.StatusCode,
			Err:        fmt.Errorf("download %s: %s", desc.Asset.Name, response.Status),
		}
	}

	file, err := os.CreateTemp(f.tempDir, tempFilePattern)
	if err != nil {
		return "", fmt.Errorf("create temporary file: %w", err)
	}

	// A peer that stalls mid-body would otherwise hang the sub-pipeline
	// until the user interrupts. The watchdog closes the body when no bytes
	// arrive within the stall timeout, failing this attempt as transient.
	watchdog := time.AfterFunc(f.stallTimeout, func() {
		_ = response.Body.Close()
	})
	defer watchdog.Stop()

	written, err := io.Copy(file, &stallReader{
		reader:   response.Body,
		watchdog: watchdog,
		timeout:  f.stallTimeout,
	})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(file.Name())

		// A transfer broken mid-stream is transient.
		return "", &forge.ForgeUnavailableError{
			Repository: desc.Spec.Slug(),
			Err:        fmt.Errorf("stream %s: %w", desc.Asset.Name, err),
		}
	}

	logger.DebugKV(ctx, "Downloaded asset",
		"asset", desc.Asset.Name, "bytes", written, "path", file.Name())

	return file.Name(), nil
}

// stallReader resets the transfer watchdog whenever bytes arrive, so only a
// genuine stall trips it.
type stallReader struct {
	reader   io.Reader
	watchdog *time.Timer
	timeout  time.Duration
}

func (r *stallReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.watchdog.Reset(r.timeout)
	}

	return n, err
}

// verify checks the received byte count against the declared size and the
// content digest when the forge provided one.
func (f *Fetcher) verify(desc *release.Descriptor, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat downloaded asset: %w", err)
	}

	if desc.Asset.Size > 0 && info.Size() != desc.Asset.Size {
		return &IntegrityError{
			Asset:    desc.Asset.Name,
			Reason:   "size",
			Expected: fmt.Sprintf("%d", desc.Asset.Size),
			Actual:   fmt.Sprintf("%d", info.Size()),
		}
	}

	if desc.Asset.Digest == "" {
		return nil
	}

	// A digest the fetcher cannot check is a failure, not a pass: accepting
	// unverified bytes quietly defeats the point of publishing digests.
	algorithm, expected, found := strings.Cut(desc.Asset.Digest, ":")
	if !found || algorithm != digestAlgorithmSHA256 {
		return &IntegrityError{
			Asset:    desc.Asset.Name,
			Reason:   "digest algorithm",
			Expected: digestAlgorithmSHA256,
			Actual:   desc.Asset.Digest,
		}
	}

	actual, err := fileDigest(path, sha256.New())
	if err != nil {
		return fmt.Errorf("hash downloaded asset: %w", err)
	}

	if !strings.EqualFold(actual, expected) {
		return &IntegrityError{
			Asset:    desc.Asset.Name,
			Reason:   "digest",
			Expected: expected,
			Actual:   actual,
		}
	}

	return nil
}

// fileDigest streams the file through the hasher and returns the hex sum.
func fileDigest(path string, hasher hash.Hash) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = file.Close()
	}()

	if _, err = io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
