package feed

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jlaffaye/ftp"
)

// ftpTarget is a resolved FTP location and the credentials to reach it.
type ftpTarget struct {
	TLS        bool
	Host       string
	Port       int
	User       string
	Password   string
	Path       string
	Dir        string
	Ext        string
	AutoLatest bool
}

func (t ftpTarget) addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// listDir returns the directory to list, or "" when Path names a file.
func (t ftpTarget) listDir() string {
	if t.AutoLatest {
		if t.Dir != "" {
			return t.Dir
		}
		if strings.HasPrefix(t.Path, "/") {
			return t.Path
		}
		return "."
	}
	if t.Path == "" || t.Path == "/" || t.Path == "." || strings.HasSuffix(t.Path, "/") {
		if t.Path == "" {
			return "."
		}
		return t.Path
	}
	return ""
}

// resolveFTP merges URL, auth and extra settings. Host and port from auth
// take precedence over the URL; credentials from auth apply only with
// auth_kind "ftp_password".
func resolveFTP(req Request) (ftpTarget, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return ftpTarget{}, fmt.Errorf("invalid ftp url: %w", err)
	}

	t := ftpTarget{
		TLS:  strings.EqualFold(u.Scheme, "ftps") || strings.EqualFold(req.Kind, "ftps"),
		Host: u.Hostname(),
		Port: 21,
		Path: u.Path,
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			t.Port = n
		}
	}
	if u.User != nil {
		t.User = u.User.Username()
		t.Password, _ = u.User.Password()
	}

	if host, ok := req.authString("host", "hostname", "server", "ftp_hostname"); ok {
		t.Host = host
	}
	if port, ok := req.authString("port"); ok {
		if n, err := strconv.Atoi(port); err == nil {
			t.Port = n
		}
	}
	if strings.EqualFold(req.AuthKind, "ftp_password") {
		if user, ok := req.authString("username", "user", "ftp_username"); ok {
			t.User = user
		}
		if pass, ok := req.authString("password", "pass", "ftp_password"); ok {
			t.Password = pass
		}
	}

	if t.Host == "" {
		return t, errors.New("FTP host not provided")
	}
	if t.User == "" {
		t.User = "anonymous"
	}
	if t.Password == "" {
		t.Password = "anonymous@"
	}

	t.Ext = strings.TrimPrefix(strings.ToLower(req.extraString("ftp_file_ext")), ".")
	t.AutoLatest = req.extraBool("ftp_auto_latest")
	t.Dir = req.extraString("ftp_dir")
	return t, nil
}

// pickFTPFile filters a directory listing by extension and returns the
// first name in sorted order, or the last when latest is set.
func pickFTPFile(names []string, ext string, latest bool) (string, bool) {
	var candidates []string
	for _, name := range names {
		if name == "" {
			continue
		}
		base := path.Base(name)
		if base == "." || base == ".." || base == ".ftpquota" {
			continue
		}
		if ext != "" && !strings.HasSuffix(strings.ToLower(base), "."+ext) {
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	if latest {
		return candidates[len(candidates)-1], true
	}
	return candidates[0], true
}

func (f *Fetcher) fetchFTP(ctx context.Context, req Request) Response {
	t, err := resolveFTP(req)
	if err != nil {
		return networkError(err)
	}
	if err := f.wait(ctx, t.Host); err != nil {
		return networkError(err)
	}

	opts := []ftp.DialOption{ftp.DialWithContext(ctx), ftp.DialWithTimeout(f.opts.Timeout)}
	if t.TLS {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: t.Host, MinVersion: tls.VersionTLS12}))
	}
	conn, err := ftp.Dial(t.addr(), opts...)
	if err != nil {
		return networkError(err)
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			slog.Debug("ftp quit", "host", t.Host, "error", err)
		}
	}()

	if err := conn.Login(t.User, t.Password); err != nil {
		return networkError(err)
	}

	target := t.Path
	if dir := t.listDir(); dir != "" {
		names, err := conn.NameList(dir)
		if err != nil {
			return ftpError(err)
		}
		chosen, ok := pickFTPFile(names, t.Ext, t.AutoLatest)
		if !ok {
			return Response{Status: 404, Err: "No matching files found in FTP directory"}
		}
		target = chosen
		if !strings.Contains(chosen, "/") && dir != "." {
			target = path.Join(dir, chosen)
		}
	}

	r, err := conn.Retr(target)
	if err != nil {
		return ftpError(err)
	}
	body, err := f.readLimited(r)
	r.Close()
	if err != nil {
		return networkError(err)
	}

	if f.opts.DeleteAfterFetch || req.extraBool("ftp_delete_after_fetch") {
		if err := conn.Delete(target); err != nil {
			slog.Warn("ftp delete after fetch failed", "path", target, "error", err)
		}
	}

	return Response{
		Status:      200,
		ContentType: contentTypeFromName(target),
		Body:        body,
		Name:        target,
	}
}

// ftpError maps "file unavailable" replies to 404 and everything else to
// the network error status.
func ftpError(err error) Response {
	var tp *textproto.Error
	if errors.As(err, &tp) && tp.Code == ftp.StatusFileUnavailable {
		return Response{Status: 404, Err: err.Error()}
	}
	return networkError(err)
}
