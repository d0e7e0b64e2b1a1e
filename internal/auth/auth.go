// Package auth adapts the machine-local credential store (an Earthdata bearer
// token or a ~/.netrc written by the login tool) into a shared HTTP client.
package auth

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jdx/go-netrc"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNoCredentials is returned when neither a token nor a netrc entry for the
// login host can be found.
var ErrNoCredentials = eris.New("auth: no credentials found")

// Options locates the credential store.
type Options struct {
	Token     string // bearer token, takes precedence over netrc for data hosts
	NetrcPath string // "~" is expanded; empty disables netrc
	Host      string // login host that must have a netrc entry when no token is set
	Required  bool   // fail with ErrNoCredentials when nothing usable is found
}

// Store answers credential lookups for the fetchers. It is read-only after
// Load and safe for concurrent use.
type Store struct {
	token string
	rc    *netrc.Netrc
	host  string
}

// Load builds a Store from opts.
func Load(opts Options) (*Store, error) {
	s := &Store{token: strings.TrimSpace(opts.Token), host: opts.Host}

	if opts.NetrcPath != "" {
		path, err := expandHome(opts.NetrcPath)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			zap.L().Debug("auth: netrc not found", zap.String("path", path))
		} else {
			rc, err := netrc.Parse(path)
			if err != nil {
				return nil, eris.Wrapf(err, "auth: parse netrc %s", path)
			}
			s.rc = rc
		}
	}

	if opts.Required && s.token == "" {
		if _, _, ok := s.Login(opts.Host); !ok {
			return nil, eris.Wrapf(ErrNoCredentials, "auth: need a token or a netrc machine entry for %s", opts.Host)
		}
	}
	return s, nil
}

// Login returns the netrc login and password for host.
func (s *Store) Login(host string) (user, password string, ok bool) {
	if s == nil || s.rc == nil || host == "" {
		return "", "", false
	}
	m := s.rc.Machine(host)
	if m == nil {
		return "", "", false
	}
	user, password = m.Get("login"), m.Get("password")
	return user, password, user != ""
}

// HasToken reports whether a bearer token is configured.
func (s *Store) HasToken() bool { return s != nil && s.token != "" }

// Decorate sets the bearer token on a request to a data host. The client's
// redirect policy drops it when a redirect leaves the original domain.
func (s *Store) Decorate(req *http.Request) {
	if s.HasToken() && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", eris.Wrap(err, "auth: resolve home directory")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
