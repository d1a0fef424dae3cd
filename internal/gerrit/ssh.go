package gerrit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultPort is the conventional Gerrit SSH port
const DefaultPort = "29418"

// Runner executes a review-system command and returns its stdout
type Runner interface {
	Run(ctx context.Context, command, stdin string) (string, error)
}

// SSHRunner runs Gerrit commands over an SSH connection that is opened lazily and reused
type SSHRunner struct {
	// Location is "[user@]host[:port]" or an ssh_config host alias
	Location string
	// KeyFile is an optional private key; the SSH agent is used otherwise
	KeyFile string
	// KnownHostsFile defaults to ~/.ssh/known_hosts
	KnownHostsFile string

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHRunner returns a runner for location
func NewSSHRunner(location, keyFile string) *SSHRunner {
	return &SSHRunner{Location: location, KeyFile: keyFile}
}

// endpoint describes a resolved SSH destination
type endpoint struct {
	User         string
	Host         string
	Port         string
	IdentityFile string
}

// Address returns host:port
func (e endpoint) Address() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// resolveEndpoint expands a location through ssh_config. Explicit user and port in the
// location win over configuration.
func resolveEndpoint(location string, lookup func(alias, key string) string) endpoint {
	var ep endpoint
	rest := location
	if i := strings.Index(rest, "@"); i >= 0 {
		ep.User, rest = rest[:i], rest[i+1:]
	}
	if host, port, err := net.SplitHostPort(rest); err == nil {
		ep.Host, ep.Port = host, port
	} else {
		ep.Host = rest
	}

	alias := ep.Host
	if hostname := lookup(alias, "HostName"); hostname != "" {
		ep.Host = hostname
	}
	if ep.Port == "" {
		if port := lookup(alias, "Port"); port != "" && port != "22" {
			ep.Port = port
		} else {
			ep.Port = DefaultPort
		}
	}
	if ep.User == "" {
		ep.User = lookup(alias, "User")
	}
	if ep.User == "" {
		ep.User = os.Getenv("USER")
	}
	ep.IdentityFile = lookup(alias, "IdentityFile")
	return ep
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func (r *SSHRunner) authMethods(ep endpoint) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	keyFile := r.KeyFile
	if keyFile == "" && ep.IdentityFile != "" {
		if _, err := os.Stat(expandHome(ep.IdentityFile)); err == nil {
			keyFile = ep.IdentityFile
		}
	}
	if keyFile != "" {
		pem, err := os.ReadFile(expandHome(keyFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key %s: %w", keyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key %s: %w", keyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			slog.Warn("SSH agent unavailable", "socket", sock, "error", err)
		} else {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no ssh credentials: set SSH_AUTH_SOCK or provide a key file")
	}
	return methods, nil
}

func (r *SSHRunner) connect() (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}

	ep := resolveEndpoint(r.Location, ssh_config.Get)
	auth, err := r.authMethods(ep)
	if err != nil {
		return nil, err
	}

	knownHosts := r.KnownHostsFile
	if knownHosts == "" {
		knownHosts = "~/.ssh/known_hosts"
	}
	hostKeyCallback, err := knownhosts.New(expandHome(knownHosts))
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", knownHosts, err)
	}

	slog.Debug("Opening ssh connection", "address", ep.Address(), "user", ep.User)
	client, err := ssh.Dial("tcp", ep.Address(), &ssh.ClientConfig{
		User:            ep.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", ep.Address(), err)
	}
	r.client = client
	return client, nil
}

// Run executes command on the remote end
func (r *SSHRunner) Run(ctx context.Context, command, stdin string) (string, error) {
	client, err := r.connect()
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	slog.Debug("Executing review command", "location", r.Location, "command", command)

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return stdout.String(), fmt.Errorf("%s failed: %s: %w", command, strings.TrimSpace(stderr.String()), err)
		}
	}
	return stdout.String(), nil
}

// Close releases the underlying connection
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
