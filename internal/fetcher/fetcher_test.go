package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merra2-cli/internal/auth"
	"github.com/sells-group/merra2-cli/internal/resilience"
)

// noSleepRetry is the default policy with the waits recorded instead of slept.
func noSleepRetry(rec *[]time.Duration) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.Sleep = func(_ context.Context, d time.Duration) error {
		if rec != nil {
			*rec = append(*rec, d)
		}
		return nil
	}
	return cfg
}

func countingServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, n int32)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r, hits.Add(1))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFileName(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{url: "https://host/data/MERRA2_400.tavg1_2d_slv_Nx.20200101.nc4", want: "MERRA2_400.tavg1_2d_slv_Nx.20200101.nc4"},
		{url: "https://host/a/b.nc4?FORMAT=bmM0Lw", want: "b.nc4"},
		{url: "  https://host/README.pdf\t", want: "README.pdf"},
		{url: "https://host/", wantErr: true},
		{url: "https://host", wantErr: true},
		{url: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := FileName(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetch_Downloads(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		assert.Equal(t, "merra2-cli/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte("payload")) //nolint:errcheck
	})

	f := New(srv.Client(), nil, Options{Retry: noSleepRetry(nil)})
	dest := filepath.Join(t.TempDir(), "a.nc4")

	out, err := f.Fetch(context.Background(), srv.URL+"/a.nc4", dest)
	require.NoError(t, err)
	assert.Equal(t, Downloaded, out)
	assert.Equal(t, int32(1), hits.Load())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.NoFileExists(t, dest+".part")
}

func TestFetch_SendsBearerToken(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok")) //nolint:errcheck
	})

	store, err := auth.Load(auth.Options{Token: "tok"})
	require.NoError(t, err)

	f := New(srv.Client(), store, Options{Retry: noSleepRetry(nil)})
	out, err := f.Fetch(context.Background(), srv.URL+"/a.nc4", filepath.Join(t.TempDir(), "a.nc4"))
	require.NoError(t, err)
	assert.Equal(t, Downloaded, out)
}

func TestFetch_SkipsNonDataWithoutNetwork(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.Write([]byte("doc")) //nolint:errcheck
	})

	f := New(srv.Client(), nil, Options{Retry: noSleepRetry(nil)})
	dest := filepath.Join(t.TempDir(), "README.pdf")

	out, err := f.Fetch(context.Background(), srv.URL+"/README.pdf", dest)
	require.NoError(t, err)
	assert.Equal(t, SkippedNonData, out)
	assert.Equal(t, int32(0), hits.Load())
	assert.NoFileExists(t, dest)
}

func TestFetch_AlreadyPresent(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.Write([]byte("new")) //nolint:errcheck
	})

	dest := filepath.Join(t.TempDir(), "a.nc4")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	f := New(srv.Client(), nil, Options{Retry: noSleepRetry(nil)})
	out, err := f.Fetch(context.Background(), srv.URL+"/a.nc4", dest)
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, out)
	assert.Equal(t, int32(0), hits.Load())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestFetch_EmptyDestinationIsRefetched(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.Write([]byte("new")) //nolint:errcheck
	})

	dest := filepath.Join(t.TempDir(), "a.nc4")
	require.NoError(t, os.WriteFile(dest, nil, 0o644))

	f := New(srv.Client(), nil, Options{Retry: noSleepRetry(nil)})
	out, err := f.Fetch(context.Background(), srv.URL+"/a.nc4", dest)
	require.NoError(t, err)
	assert.Equal(t, Downloaded, out)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetch_TransientExhaustsFiveAttempts(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	var delays []time.Duration
	f := New(srv.Client(), nil, Options{Retry: noSleepRetry(&delays)})
	dest := filepath.Join(t.TempDir(), "a.nc4")

	_, err := f.Fetch(context.Background(), srv.URL+"/a.nc4", dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 5, fe.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, fe.Status)
	assert.Equal(t, int32(5), hits.Load())

	require.Len(t, delays, 4)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}
	assert.Equal(t, 2*time.Second, delays[0])

	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+".part")
}

func TestFetch_RecoversAfterTransient(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request, n int32) {
		if n <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("finally")) //nolint:errcheck
	})

	f := New(srv.Client(), nil, Options{Retry: noSleepRetry(nil)})
	out, err := f.Fetch(context.Background(), srv.URL+"/a.nc4", filepath.Join(t.TempDir(), "a.nc4"))
	require.NoError(t, err)
	assert.Equal(t, Downloaded, out)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetch_NotFoundIsRetried(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.WriteHeader(http.StatusNotFound)
	})

	f := New(srv.Client(), nil, Options{Retry: noSleepRetry(nil)})
	_, err := f.Fetch(context.Background(), srv.URL+"/a.nc4", filepath.Join(t.TempDir(), "a.nc4"))
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, int32(5), hits.Load())
}

func TestFetch_AuthFailureNotRetried(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
				w.WriteHeader(code)
			})

			var delays []time.Duration
			f := New(srv.Client(), nil, Options{Retry: noSleepRetry(&delays)})
			dest := filepath.Join(t.TempDir(), "a.nc4")

			_, err := f.Fetch(context.Background(), srv.URL+"/a.nc4", dest)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAuth)

			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, 1, fe.Attempts)
			assert.Equal(t, code, fe.Status)
			assert.Equal(t, int32(1), hits.Load())
			assert.Empty(t, delays)
			assert.NoFileExists(t, dest)
		})
	}
}

// truncate promises more bytes than it sends, then drops the connection.
func truncate(t *testing.T, w http.ResponseWriter) {
	w.Header().Set("Content-Length", "1000")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("partial")) //nolint:errcheck
	w.(http.Flusher).Flush()
	hj, ok := w.(http.Hijacker)
	require.True(t, ok)
	conn, _, err := hj.Hijack()
	require.NoError(t, err)
	conn.Close() //nolint:errcheck
}

func TestFetch_BrokenStreamRemovesPartial(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
		truncate(t, w)
	})

	f := New(srv.Client(), nil, Options{Retry: noSleepRetry(nil)})
	dest := filepath.Join(t.TempDir(), "a.nc4")

	_, err := f.Fetch(context.Background(), srv.URL+"/a.nc4", dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, int32(5), hits.Load())
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+".part")
}

func TestFetch_BrokenStreamThenSuccess(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, _ *http.Request, n int32) {
		if n == 1 {
			truncate(t, w)
			return
		}
		w.Write([]byte("complete")) //nolint:errcheck
	})

	f := New(srv.Client(), nil, Options{Retry: noSleepRetry(nil)})
	dest := filepath.Join(t.TempDir(), "a.nc4")

	out, err := f.Fetch(context.Background(), srv.URL+"/a.nc4", dest)
	require.NoError(t, err)
	assert.Equal(t, Downloaded, out)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "complete", string(data))
	assert.NoFileExists(t, dest+".part")
}

func TestFetch_UnsupportedScheme(t *testing.T) {
	f := New(nil, nil, Options{Retry: noSleepRetry(nil)})
	_, err := f.Fetch(context.Background(), "s3://bucket/a.nc4", filepath.Join(t.TempDir(), "a.nc4"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailed)
}

func TestFetch_CanceledContext(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(srv.Client(), nil, Options{Retry: noSleepRetry(nil)})
	_, err := f.Fetch(ctx, srv.URL+"/a.nc4", filepath.Join(t.TempDir(), "a.nc4"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetch_RateLimitSlowsHost(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, _ *http.Request, n int32) {
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok")) //nolint:errcheck
	})

	f := New(srv.Client(), nil, Options{RatePerSec: 100, Retry: noSleepRetry(nil)})
	_, err := f.Fetch(context.Background(), srv.URL+"/a.nc4", filepath.Join(t.TempDir(), "a.nc4"))
	require.NoError(t, err)

	pace := f.pacers.get(srv.Listener.Addr().String())
	require.NotNil(t, pace)
	assert.Less(t, float64(pace.limit()), 100.0)
}

func TestPacer_Bounds(t *testing.T) {
	p := newPacer("h", 10)

	for range 10 {
		p.succeeded()
	}
	assert.InDelta(t, 20.0, float64(p.limit()), 0.001)

	for range 10 {
		p.throttled()
	}
	assert.InDelta(t, 2.5, float64(p.limit()), 0.001)
}

func TestPacers_DisabledWhenZero(t *testing.T) {
	assert.Nil(t, newPacers(0).get("example.com"))

	ps := newPacers(5)
	assert.Same(t, ps.get("a"), ps.get("a"))
	assert.NotSame(t, ps.get("a"), ps.get("b"))
}
