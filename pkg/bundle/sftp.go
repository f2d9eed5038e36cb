package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/vyvo/bundlecast/pkg/fault"
)

const defaultSSHPort = 22

// SFTPSource reads the bundle from a remote host over SFTP. A new SSH
// connection is opened for every load.
type SFTPSource struct {
	user     string
	host     string
	port     int
	path     string
	password string
	keyPath  string
	dial     func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}

var _ Source = (*SFTPSource)(nil)

// NewSFTPSource parses location as sftp://user@host[:port]/path.
func NewSFTPSource(location string, opts Options) (*SFTPSource, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fault.Config("parse bundle location", err)
	}
	if u.Scheme != "sftp" {
		return nil, fault.Config("parse bundle location", fmt.Errorf("unexpected scheme %q", u.Scheme))
	}
	if u.Hostname() == "" || u.Path == "" || u.Path == "/" {
		return nil, fault.Config("parse bundle location", fmt.Errorf("%q needs a host and a file path", location))
	}

	port := defaultSSHPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fault.Config("parse bundle location", fmt.Errorf("invalid port %q", p))
		}
	}

	user := u.User.Username()
	if user == "" {
		user = os.Getenv("USER")
	}
	password := opts.SFTPPassword
	if pw, ok := u.User.Password(); ok && password == "" {
		password = pw
	}

	return &SFTPSource{
		user:     user,
		host:     u.Hostname(),
		port:     port,
		path:     u.Path,
		password: password,
		keyPath:  opts.SFTPPrivateKeyPath,
		dial:     ssh.Dial,
	}, nil
}

func (s *SFTPSource) Describe() string {
	return fmt.Sprintf("sftp://%s@%s:%d%s", s.user, s.host, s.port, s.path)
}

// Load connects, checks the remote file exists and reads it whole.
func (s *SFTPSource) Load(ctx context.Context) (Bundle, error) {
	if err := ctx.Err(); err != nil {
		return Bundle{}, err
	}

	authMethods, err := s.buildAuthMethods()
	if err != nil {
		return Bundle{}, fault.Config("load bundle", err)
	}

	config := &ssh.ClientConfig{
		User:            s.user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	client, err := s.dial("tcp", addr, config)
	if err != nil {
		return Bundle{}, fault.Config("load bundle", fmt.Errorf("ssh dial failed: %w", err))
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return Bundle{}, fault.Config("load bundle", fmt.Errorf("sftp session: %w", err))
	}
	defer sftpClient.Close()

	if _, err := sftpClient.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Bundle{}, fault.Config("load bundle", fmt.Errorf("%s: %w", s.Describe(), ErrMissing))
		}
		return Bundle{}, fault.Config("load bundle", err)
	}

	file, err := sftpClient.Open(s.path)
	if err != nil {
		return Bundle{}, fault.Config("read bundle", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Bundle{}, fault.Config("read bundle", err)
	}
	return newBundle(data, s.Describe()), nil
}

func (s *SFTPSource) buildAuthMethods() ([]ssh.AuthMethod, error) {
	authMethods := make([]ssh.AuthMethod, 0, 2)
	if path := strings.TrimSpace(s.keyPath); path != "" {
		data, err := os.ReadFile(expandHome(path))
		if err != nil {
			return nil, fmt.Errorf("read ssh private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse ssh private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if password := strings.TrimSpace(s.password); password != "" {
		authMethods = append(authMethods, ssh.Password(password))
	}
	if len(authMethods) > 0 {
		return authMethods, nil
	}

	signer, err := defaultPrivateKeySigner()
	if err != nil {
		return nil, fmt.Errorf("no authentication method provided: %w", err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func defaultPrivateKeySigner() (ssh.Signer, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		data, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		signer, parseErr := ssh.ParsePrivateKey(data)
		if parseErr != nil {
			continue
		}
		return signer, nil
	}
	return nil, fmt.Errorf("no default private key found")
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
