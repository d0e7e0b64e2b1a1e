package fetcher

import (
	"context"
	"io"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merra2-cli/internal/auth"
	"github.com/sells-group/merra2-cli/internal/resilience"
)

type httpOpener struct {
	client    *http.Client
	store     *auth.Store
	userAgent string
}

// open issues one GET. Network errors and every non-2xx status except
// 401/403 come back as transient errors.
func (h *httpOpener) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", h.userAgent)
	h.store.Decorate(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "http get"), 0)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()

	statusErr := &StatusError{URL: resp.Request.URL.String(), Code: resp.StatusCode}
	if resilience.IsAuthHTTPStatus(resp.StatusCode) {
		return nil, statusErr
	}
	return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
}
