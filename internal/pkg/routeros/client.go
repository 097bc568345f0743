package routeros

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Endpoint identifies a managed RouterOS device.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (e Endpoint) addr() string {
	port := e.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", port))
}

// ConnectionError indicates the device could not be reached or refused the
// credentials. Callers may retry with backoff.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError indicates the device rejected a command or returned unusable
// output. Output carries the captured diagnostics.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %q: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %q: %s", e.Command, e.Output)
}

func (e *CommandError) Unwrap() error { return e.Err }

// runner executes a single command on the device and returns combined output.
type runner interface {
	Run(ctx context.Context, cmd string) ([]byte, error)
}

// fileTransfer moves files to and from the device filesystem.
type fileTransfer interface {
	Upload(name string, content []byte) error
	Download(name string) ([]byte, error)
	Remove(name string) error
}

// Session is an authenticated connection to one device. A session is owned by
// a single run; it is not shared. Close is safe to call more than once and
// after partial failure.
type Session struct {
	client *ssh.Client
	run    runner
	files  fileTransfer

	closeOnce sync.Once
	closeErr  error
}

// Dial opens an SSH session to the device. It never retries; retry policy
// belongs to the caller. The timeout bounds the TCP dial and SSH handshake.
func Dial(ctx context.Context, ep Endpoint, timeout time.Duration) (*Session, error) {
	cfg := &ssh.ClientConfig{
		User:            ep.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(ep.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	addr := ep.addr()
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	// The ClientConfig timeout covers only the TCP dial inside ssh.Dial; a
	// deadline on the raw connection bounds the handshake itself, so a device
	// that accepts TCP but then stalls cannot block forever.
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			conn.Close()
			return nil, &ConnectionError{Addr: addr, Err: err}
		}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	if timeout > 0 {
		if err := conn.SetDeadline(time.Time{}); err != nil {
			sshConn.Close()
			return nil, &ConnectionError{Addr: addr, Err: err}
		}
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	return &Session{
		client: client,
		run:    &sshRunner{client: client},
		files:  &sftpTransfer{client: client},
	}, nil
}

// ExportConfig runs the device's configuration export and returns the full
// text. Zero-length output is an error: a legitimate export is never empty.
func (s *Session) ExportConfig(ctx context.Context, compact bool) (string, error) {
	cmd := "/export show-sensitive"
	if compact {
		cmd = "/export compact show-sensitive"
	}

	out, err := s.run.Run(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &CommandError{Command: cmd, Output: string(out), Err: err}
	}

	text := strings.ReplaceAll(string(out), "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return "", &CommandError{Command: cmd, Output: "empty export"}
	}
	return text, nil
}

// FetchBinaryBackup asks the device to produce a binary system image and
// downloads it. The transfer file is removed from the device afterwards.
func (s *Session) FetchBinaryBackup(ctx context.Context) ([]byte, error) {
	const name = "routefleet-transfer"
	cmd := fmt.Sprintf("/system backup save name=%s dont-encrypt=yes", name)

	out, err := s.run.Run(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &CommandError{Command: cmd, Output: string(out), Err: err}
	}

	data, err := s.files.Download(name + ".backup")
	if err != nil {
		return nil, &CommandError{Command: cmd, Output: "fetch backup file", Err: err}
	}
	if len(data) == 0 {
		return nil, &CommandError{Command: cmd, Output: "empty backup image"}
	}

	// Best effort; a leftover transfer file is harmless.
	_ = s.files.Remove(name + ".backup")

	return data, nil
}

// PushConfig uploads a configuration script and imports it on the device.
func (s *Session) PushConfig(ctx context.Context, name string, content []byte) error {
	file := name + ".rsc"
	if err := s.files.Upload(file, content); err != nil {
		return &CommandError{Command: "upload " + file, Err: err}
	}

	cmd := fmt.Sprintf("/import file-name=%s", file)
	out, err := s.run.Run(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &CommandError{Command: cmd, Output: string(out), Err: err}
	}

	// RouterOS reports import errors in the output with a zero exit status.
	text := strings.ToLower(string(out))
	if strings.Contains(text, "failure:") || strings.Contains(text, "syntax error") {
		return &CommandError{Command: cmd, Output: strings.TrimSpace(string(out))}
	}

	_ = s.files.Remove(file)
	return nil
}

// Close releases the underlying connection. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.client != nil {
			s.closeErr = s.client.Close()
		}
	})
	return s.closeErr
}

type sshRunner struct {
	client *ssh.Client
}

func (r *sshRunner) Run(ctx context.Context, cmd string) ([]byte, error) {
	sess, err := r.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	var buf bytes.Buffer
	sess.Stdout = &buf
	sess.Stderr = &buf

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		// Tears down the channel; the goroutine exits through sess.Run.
		sess.Close()
		<-done
		return buf.Bytes(), ctx.Err()
	case err := <-done:
		return buf.Bytes(), err
	}
}

type sftpTransfer struct {
	client *ssh.Client
}

func (t *sftpTransfer) open() (*sftp.Client, error) {
	return sftp.NewClient(t.client)
}

func (t *sftpTransfer) Upload(name string, content []byte) error {
	c, err := t.open()
	if err != nil {
		return err
	}
	defer c.Close()

	f, err := c.Create(name)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (t *sftpTransfer) Download(name string) ([]byte, error) {
	c, err := t.open()
	if err != nil {
		return nil, err
	}
	defer c.Close()

	f, err := c.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t *sftpTransfer) Remove(name string) error {
	c, err := t.open()
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Remove(name)
}
