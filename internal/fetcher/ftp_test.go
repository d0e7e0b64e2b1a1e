package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merra2-cli/internal/auth"
	"github.com/sells-group/merra2-cli/internal/resilience"
)

func TestParseFTPURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		{
			name:     "standard ftp url",
			url:      "ftp://goldsmr4.gesdisc.eosdis.nasa.gov/data/MERRA2/x.nc4",
			wantHost: "goldsmr4.gesdisc.eosdis.nasa.gov:21",
			wantPath: "/data/MERRA2/x.nc4",
		},
		{
			name:     "ftp url with port",
			url:      "ftp://ftp.example.com:2121/data/file.nc4",
			wantHost: "ftp.example.com:2121",
			wantPath: "/data/file.nc4",
		},
		{
			name:    "http scheme rejected",
			url:     "http://example.com/file.nc4",
			wantErr: true,
		},
		{
			name:    "empty path",
			url:     "ftp://ftp.example.com",
			wantErr: true,
		},
		{
			name:    "invalid url",
			url:     "://bad",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, path, err := parseFTPURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestIsFTPAuthFailure(t *testing.T) {
	assert.True(t, isFTPAuthFailure(&textproto.Error{Code: 530, Msg: "Login incorrect"}))
	assert.False(t, isFTPAuthFailure(&textproto.Error{Code: 550, Msg: "File not found"}))
	assert.False(t, isFTPAuthFailure(errors.New("boom")))
	assert.Equal(t, 550, ftpStatus(&textproto.Error{Code: 550}))

	rejected := &ftpLoginError{user: "alice", err: errors.New("Login incorrect")}
	assert.True(t, isFTPAuthFailure(rejected))
	assert.Equal(t, 530, ftpStatus(rejected))
}

func TestLoginRejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "plain server message", err: errors.New("Login incorrect"), want: true},
		{name: "530 reply", err: &textproto.Error{Code: 530, Msg: "Not logged in"}, want: true},
		{name: "421 reply", err: &textproto.Error{Code: 421, Msg: "Too many users"}, want: false},
		{name: "connection dropped", err: io.EOF, want: false},
		{name: "truncated reply", err: io.ErrUnexpectedEOF, want: false},
		{name: "malformed reply", err: textproto.ProtocolError("short response"), want: false},
		{name: "timeout", err: &net.OpError{Op: "read", Err: os.ErrDeadlineExceeded}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, loginRejected(tt.err))
		})
	}
}

func ftpStore(t *testing.T, machine string) *auth.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".netrc")
	require.NoError(t, os.WriteFile(path, []byte(machine), 0o600))
	s, err := auth.Load(auth.Options{NetrcPath: path})
	require.NoError(t, err)
	return s
}

func TestFetch_FTPAnonymous(t *testing.T) {
	srv := newMiniFTPServer(t, map[string]string{"/data/a.nc4": "netcdf-bytes"}, "")
	defer srv.close()

	f := New(nil, nil, Options{Retry: noSleepRetry(nil)})
	dest := filepath.Join(t.TempDir(), "a.nc4")

	out, err := f.Fetch(context.Background(), "ftp://"+srv.addr()+"/data/a.nc4", dest)
	require.NoError(t, err)
	assert.Equal(t, Downloaded, out)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "netcdf-bytes", string(data))
	assert.Equal(t, []string{"anonymous"}, srv.seenUsers())
}

func TestFetch_FTPUsesNetrcLogin(t *testing.T) {
	srv := newMiniFTPServer(t, map[string]string{"/a.nc4": "x"}, "")
	defer srv.close()

	store := ftpStore(t, "machine 127.0.0.1 login alice password pw\n")
	f := New(nil, store, Options{Retry: noSleepRetry(nil)})

	_, err := f.Fetch(context.Background(), "ftp://"+srv.addr()+"/a.nc4", filepath.Join(t.TempDir(), "a.nc4"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, srv.seenUsers())
}

func TestFetch_FTPLoginRejectedNotRetried(t *testing.T) {
	srv := newMiniFTPServer(t, map[string]string{"/a.nc4": "x"}, "alice")
	defer srv.close()

	store := ftpStore(t, "machine 127.0.0.1 login alice password wrong\n")
	f := New(nil, store, Options{Retry: noSleepRetry(nil)})
	dest := filepath.Join(t.TempDir(), "a.nc4")

	_, err := f.Fetch(context.Background(), "ftp://"+srv.addr()+"/a.nc4", dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Attempts)
	assert.Equal(t, 530, fe.Status)
	assert.Len(t, srv.seenUsers(), 1)
	assert.NoFileExists(t, dest)
}

func TestFetch_FTPMissingFileRetried(t *testing.T) {
	srv := newMiniFTPServer(t, map[string]string{}, "")
	defer srv.close()

	var delays []time.Duration
	f := New(nil, nil, Options{Retry: noSleepRetry(&delays)})
	dest := filepath.Join(t.TempDir(), "gone.nc4")

	_, err := f.Fetch(context.Background(), "ftp://"+srv.addr()+"/gone.nc4", dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Len(t, delays, resilience.DefaultRetryConfig().MaxAttempts-1)
	assert.NoFileExists(t, dest+".part")
}
