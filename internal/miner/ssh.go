package miner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

// DefaultSSHPort is the port used for shell access to the control board.
const DefaultSSHPort = 22

// Credential is a login for one firmware family.
type Credential struct {
	User     string
	Password string
}

// sshRunner runs shell commands on a device, one connection per call.
type sshRunner struct {
	ip      string
	port    int
	cred    Credential
	timeout time.Duration
}

func newSSHRunner(ip string, port int, cred Credential, timeout time.Duration) *sshRunner {
	if port == 0 {
		port = DefaultSSHPort
	}
	return &sshRunner{ip: ip, port: port, cred: cred, timeout: timeout}
}

func (r *sshRunner) dial(ctx context.Context) (*ssh.Client, error) {
	addr := net.JoinHostPort(r.ip, strconv.Itoa(r.port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: ssh dial: %v", miner.ErrUnreachable, err)
	}

	cfg := &ssh.ClientConfig{
		User: r.cred.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(r.cred.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = r.cred.Password
				}
				return answers, nil
			}),
		},
		// Control boards regenerate host keys on every firmware flash.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.timeout,
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: ssh handshake: %v", miner.ErrProtocol, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// Run executes command and returns its combined output. A non-zero exit is
// an ErrProtocol carrying the output.
func (r *sshRunner) Run(ctx context.Context, command string) (string, error) {
	return r.run(ctx, command, nil)
}

// Upload writes data to path through the remote shell.
func (r *sshRunner) Upload(ctx context.Context, path string, data []byte) error {
	_, err := r.run(ctx, fmt.Sprintf("cat > %s", path), bytes.NewReader(data))
	return err
}

func (r *sshRunner) run(ctx context.Context, command string, stdin io.Reader) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	client, err := r.dial(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("%w: ssh session: %v", miner.ErrProtocol, err)
	}
	defer session.Close()

	if stdin != nil {
		session.Stdin = stdin
	}
	out, err := session.CombinedOutput(command)
	if err != nil {
		var exit *ssh.ExitError
		if errors.As(err, &exit) {
			return string(out), fmt.Errorf("%w: %q exited %d", miner.ErrProtocol, command, exit.ExitStatus())
		}
		if ctx.Err() != nil {
			return string(out), fmt.Errorf("%w: %v", miner.ErrUnreachable, ctx.Err())
		}
		return string(out), fmt.Errorf("%w: %v", miner.ErrUnreachable, err)
	}
	return string(out), nil
}
