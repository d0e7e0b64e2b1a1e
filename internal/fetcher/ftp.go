package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/merra2-cli/internal/auth"
	"github.com/sells-group/merra2-cli/internal/resilience"
)

type ftpOpener struct {
	store   *auth.Store
	timeout time.Duration
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("empty path in ftp url")
	}

	return host, path, nil
}

// ftpConnReader wraps an FTP response and connection so that closing the reader
// also closes the FTP response and disconnects from the server.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "quit ftp connection")
	}
	return nil
}

// open connects, logs in with the netrc entry for the host (or anonymously)
// and starts the transfer. Everything but a rejected login is transient.
func (o *ftpOpener) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	host, path, err := parseFTPURL(rawURL)
	if err != nil {
		return nil, err
	}

	timeout := o.timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	zap.L().Debug("ftp: connecting", zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "ftp dial"), 0)
	}

	user, pass, ok := o.store.Login(hostOnly(host))
	if !ok {
		user, pass = "anonymous", "anonymous@"
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		if loginRejected(err) {
			return nil, &ftpLoginError{user: user, err: err}
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "ftp login"), ftpStatus(err))
	}

	resp, err := conn.Retr(path)
	if err != nil {
		_ = conn.Quit()
		return nil, resilience.NewTransientError(eris.Wrap(err, "ftp retrieve"), ftpStatus(err))
	}

	return &ftpConnReader{resp: resp, conn: conn}, nil
}

func hostOnly(hostport string) string {
	h, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return h
}

// ftpLoginError is a login the server refused. The ftp client reports a 530
// on USER as a plain error, so the status is implied.
type ftpLoginError struct {
	user string
	err  error
}

func (e *ftpLoginError) Error() string {
	return "ftp login rejected for " + e.user + ": " + e.err.Error()
}

func (e *ftpLoginError) Unwrap() error { return e.err }

// loginRejected separates a refused login from a broken connection: network
// and framing errors are transient, a reply code other than 530 is
// transient, anything else came back from the server as a refusal.
func loginRejected(err error) bool {
	var netErr net.Error
	var protoErr textproto.ProtocolError
	if errors.As(err, &netErr) || errors.As(err, &protoErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return false
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code == ftp.StatusNotLoggedIn
	}
	return true
}

func ftpStatus(err error) int {
	var loginErr *ftpLoginError
	if errors.As(err, &loginErr) {
		return ftp.StatusNotLoggedIn
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code
	}
	return 0
}

func isFTPAuthFailure(err error) bool {
	return ftpStatus(err) == ftp.StatusNotLoggedIn
}
