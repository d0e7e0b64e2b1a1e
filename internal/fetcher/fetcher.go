// Package fetcher downloads archive files to local paths over HTTPS or FTP,
// with resumption, bounded retries and partial-file cleanup.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/merra2-cli/internal/auth"
	"github.com/sells-group/merra2-cli/internal/resilience"
)

// Fetcher downloads one URL to one destination path.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, destPath string) (Outcome, error)
}

// Outcome describes a fetch that did not fail.
type Outcome int

const (
	Downloaded Outcome = iota
	SkippedNonData
	AlreadyPresent
)

func (o Outcome) String() string {
	switch o {
	case Downloaded:
		return "downloaded"
	case SkippedNonData:
		return "skipped"
	case AlreadyPresent:
		return "present"
	default:
		return "unknown"
	}
}

// Failure kinds carried by FetchError.
var (
	ErrAuth      = eris.New("fetcher: authentication failed")
	ErrExhausted = eris.New("fetcher: retries exhausted")
	ErrFailed    = eris.New("fetcher: fetch failed")
)

// FetchError is a terminal failure of one URL.
type FetchError struct {
	URL      string
	Attempts int
	Status   int   // last HTTP/FTP status, 0 when none was received
	Kind     error // ErrAuth, ErrExhausted or ErrFailed
	Err      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %s after %d attempt(s)", e.Kind.Error(), e.URL, e.Attempts)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() []error { return []error{e.Kind, e.Err} }

// StatusError is a non-success reply from the remote server.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d from %s", e.Code, e.URL)
}

// Options configures a RemoteFetcher.
type Options struct {
	Extension  string // data file suffix, default ".nc4"
	BufferSize int    // copy buffer in bytes, default 32 KiB
	UserAgent  string
	RatePerSec float64 // per-host request rate, 0 disables pacing
	FTPTimeout time.Duration
	Retry      resilience.RetryConfig
}

// opener performs a single attempt and returns the response body.
type opener interface {
	open(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// RemoteFetcher implements Fetcher for http, https and ftp URLs.
type RemoteFetcher struct {
	opts     Options
	http     opener
	ftp      opener
	pacers   *pacers
}

// New creates a RemoteFetcher around the run's shared HTTP client. store may
// be nil for anonymous access.
func New(client *http.Client, store *auth.Store, opts Options) *RemoteFetcher {
	if opts.Extension == "" {
		opts.Extension = ".nc4"
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 32 * 1024
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "merra2-cli/1.0"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteFetcher{
		opts:     opts,
		http:     &httpOpener{client: client, store: store, userAgent: opts.UserAgent},
		ftp:      &ftpOpener{store: store, timeout: opts.FTPTimeout},
		pacers:   newPacers(opts.RatePerSec),
	}
}

// FileName returns the base name of the URL path.
func FileName(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return "", eris.Errorf("fetcher: url %q has no file name", rawURL)
	}
	return name, nil
}

// IsDataURL reports whether the URL names a file with the data extension.
func (f *RemoteFetcher) IsDataURL(rawURL string) bool {
	name, err := FileName(rawURL)
	return err == nil && strings.HasSuffix(name, f.opts.Extension)
}

// Fetch downloads rawURL to destPath. Non-data URLs and existing non-empty
// destinations return without network I/O.
func (f *RemoteFetcher) Fetch(ctx context.Context, rawURL, destPath string) (Outcome, error) {
	if !f.IsDataURL(rawURL) {
		return SkippedNonData, nil
	}
	if info, err := os.Stat(destPath); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		return AlreadyPresent, nil
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return 0, &FetchError{URL: rawURL, Kind: ErrFailed, Err: err}
	}
	var op opener
	switch u.Scheme {
	case "http", "https":
		op = f.http
	case "ftp":
		op = f.ftp
	default:
		return 0, &FetchError{URL: rawURL, Kind: ErrFailed, Err: eris.Errorf("unsupported scheme %q", u.Scheme)}
	}
	pace := f.pacers.get(u.Host)

	retry := f.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(rawURL)
	}

	var written int64
	attempts, err := resilience.Do(ctx, retry, func(ctx context.Context, _ int) error {
		if pace != nil {
			if err := pace.wait(ctx); err != nil {
				return eris.Wrap(err, "rate limiter wait")
			}
		}
		n, err := f.attempt(ctx, op, u.String(), destPath)
		if err != nil {
			if pace != nil && resilience.StatusCode(err) == http.StatusTooManyRequests {
				pace.throttled()
			}
			return err
		}
		if pace != nil {
			pace.succeeded()
		}
		written = n
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, &FetchError{URL: rawURL, Attempts: attempts, Kind: ErrFailed, Err: ctxErr}
		}
		return 0, classify(rawURL, attempts, err)
	}

	zap.L().Debug("fetcher: downloaded",
		zap.String("url", rawURL),
		zap.String("path", destPath),
		zap.String("size", humanize.Bytes(uint64(written))),
		zap.Int("attempts", attempts),
	)
	return Downloaded, nil
}

// attempt streams one response into destPath+".part" and renames it into
// place. The partial file is removed on any failure.
func (f *RemoteFetcher) attempt(ctx context.Context, op opener, rawURL, destPath string) (int64, error) {
	body, err := op.open(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	partPath := destPath + ".part"
	file, err := os.Create(partPath)
	if err != nil {
		return 0, eris.Wrapf(err, "create %s", partPath)
	}

	n, copyErr := io.CopyBuffer(file, body, make([]byte, f.opts.BufferSize))
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(partPath)
		if copyErr != nil {
			if ctx.Err() != nil {
				return n, ctx.Err()
			}
			// A broken stream is a network failure.
			return n, resilience.NewTransientError(eris.Wrapf(copyErr, "read body of %s", rawURL), 0)
		}
		return n, eris.Wrapf(closeErr, "close %s", partPath)
	}

	if err := os.Rename(partPath, destPath); err != nil {
		_ = os.Remove(partPath)
		return n, eris.Wrapf(err, "rename %s", partPath)
	}
	return n, nil
}

func classify(rawURL string, attempts int, err error) *FetchError {
	fe := &FetchError{URL: rawURL, Attempts: attempts, Err: err, Kind: ErrFailed}

	var se *StatusError
	if errors.As(err, &se) {
		fe.Status = se.Code
	}
	switch {
	case isAuthFailure(err):
		fe.Kind = ErrAuth
		if fe.Status == 0 {
			fe.Status = ftpStatus(err)
		}
	case resilience.IsTransient(err):
		fe.Kind = ErrExhausted
	}
	return fe
}

func isAuthFailure(err error) bool {
	var se *StatusError
	if errors.As(err, &se) && resilience.IsAuthHTTPStatus(se.Code) {
		return true
	}
	return isFTPAuthFailure(err)
}
