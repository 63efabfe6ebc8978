package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
)

// SFTPConfig configures an SFTPStore.
type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string
	BasePath       string
	Timeout        time.Duration
}

// SFTPStore writes objects to a remote directory over SFTP. A single SSH
// connection is shared by all workers and re-established after it fails.
type SFTPStore struct {
	config SFTPConfig
	retry  RetryConfig
	log    logger.Logger

	mu     sync.Mutex
	client *sftp.Client
	conn   *ssh.Client
}

// NewSFTPStore validates cfg and applies defaults. No connection is made.
func NewSFTPStore(cfg SFTPConfig) (*SFTPStore, error) {
	if cfg.Host == "" {
		return nil, errors.Newf("sftp: host is required").
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.KeyFile == "" && cfg.Password == "" {
		return nil, errors.Newf("sftp: no authentication method provided").
			Component("storage").
			Category(errors.CategoryConfiguration).
			Context("host", cfg.Host).
			Build()
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultSSHPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	if cfg.BasePath == "" {
		cfg.BasePath = "migration"
	}

	return &SFTPStore{
		config: cfg,
		retry:  DefaultRetryConfig(),
		log:    GetLogger().Module("sftp"),
	}, nil
}

// Name returns the name of this store
func (s *SFTPStore) Name() string { return "sftp" }

func (s *SFTPStore) clientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:    s.config.Username,
		Timeout: s.config.Timeout,
	}

	if s.config.KnownHostsFile != "" {
		callback, err := knownhosts.New(s.config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to load known hosts: %w", err)
		}
		config.HostKeyCallback = callback
	} else {
		s.log.Warn("host key verification disabled, set known_hosts_file to enable it",
			logger.String("host", s.config.Host))
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in through configuration
	}

	switch {
	case s.config.KeyFile != "":
		key, err := os.ReadFile(s.config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		config.Auth = []ssh.AuthMethod{ssh.Password(s.config.Password)}
	}
	return config, nil
}

// connect returns the shared client, dialing when there is none.
func (s *SFTPStore) connect(ctx context.Context) (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		if _, err := s.client.Getwd(); err == nil {
			return s.client, nil
		}
		s.closeLocked()
	}

	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}

	type connResult struct {
		conn   *ssh.Client
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
		conn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{err: fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}
		client, err := sftp.NewClient(conn)
		if err != nil {
			_ = conn.Close()
			resultChan <- connResult{err: fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{conn: conn, client: client}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-resultChan; r.client != nil {
				_ = r.client.Close()
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-resultChan:
		if r.err != nil {
			return nil, r.err
		}
		s.conn, s.client = r.conn, r.client
		s.log.Debug("connected", logger.String("host", s.config.Host))
		return s.client, nil
	}
}

func (s *SFTPStore) closeLocked() {
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close releases the shared connection.
func (s *SFTPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

// Put writes r to basePath/key through a temporary file and a rename.
func (s *SFTPStore) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	var client *sftp.Client
	err := WithRetry(ctx, s.retry, func() error {
		var err error
		client, err = s.connect(ctx)
		return err
	})
	if err != nil {
		return unreachable(s.Name(), err)
	}

	remotePath := path.Join(s.config.BasePath, key)
	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return putError(s.Name(), remotePath, fmt.Errorf("sftp: failed to create directory: %w", err))
	}

	tempPath := path.Join(path.Dir(remotePath), fmt.Sprintf(".upload-%d-%s", time.Now().UnixNano(), filepath.Base(remotePath)))
	dst, err := client.Create(tempPath)
	if err != nil {
		return putError(s.Name(), remotePath, fmt.Errorf("sftp: failed to create file: %w", err))
	}

	if _, err := io.Copy(dst, ctxReader{ctx: ctx, r: r}); err != nil {
		_ = dst.Close()
		_ = client.Remove(tempPath)
		return putError(s.Name(), remotePath, fmt.Errorf("sftp: failed to write file: %w", err))
	}
	if err := dst.Close(); err != nil {
		_ = client.Remove(tempPath)
		return putError(s.Name(), remotePath, fmt.Errorf("sftp: failed to close file: %w", err))
	}
	if err := client.PosixRename(tempPath, remotePath); err != nil {
		_ = client.Remove(tempPath)
		return putError(s.Name(), remotePath, fmt.Errorf("sftp: failed to rename file: %w", err))
	}
	return nil
}

// Validate connects and creates then removes a probe directory.
func (s *SFTPStore) Validate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	client, err := s.connect(ctx)
	if err != nil {
		return unreachable(s.Name(), err)
	}

	testDir := path.Join(s.config.BasePath, ".write_test")
	if err := client.MkdirAll(testDir); err != nil {
		return unreachable(s.Name(), fmt.Errorf("sftp: failed to create test directory: %w", err))
	}
	if err := client.RemoveDirectory(testDir); err != nil {
		s.log.Warn("failed to remove test directory",
			logger.String("path", testDir),
			logger.Error(err))
	}
	return nil
}
