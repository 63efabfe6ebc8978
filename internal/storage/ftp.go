package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
)

// DefaultMaxConns bounds the FTP connection pool.
const DefaultMaxConns = 5

// FTPConfig configures an FTPStore.
type FTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	BasePath string
	Timeout  time.Duration
	MaxConns int
}

// FTPStore writes objects to an FTP server. FTP control connections are not
// safe for concurrent use, so each Put borrows one from a pool.
type FTPStore struct {
	config   FTPConfig
	retry    RetryConfig
	log      logger.Logger
	connPool chan *ftp.ServerConn
}

// NewFTPStore validates cfg and applies defaults. No connection is made.
func NewFTPStore(cfg FTPConfig) (*FTPStore, error) {
	if cfg.Host == "" {
		return nil, errors.Newf("ftp: host is required").
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultFTPPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	if cfg.BasePath == "" {
		cfg.BasePath = "migration"
	}

	return &FTPStore{
		config:   cfg,
		retry:    DefaultRetryConfig(),
		log:      GetLogger().Module("ftp"),
		connPool: make(chan *ftp.ServerConn, cfg.MaxConns),
	}, nil
}

// Name returns the name of this store
func (s *FTPStore) Name() string { return "ftp" }

// getConnection gets a live connection from the pool or dials a new one.
func (s *FTPStore) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	for {
		select {
		case conn := <-s.connPool:
			if conn.NoOp() == nil {
				return conn, nil
			}
			_ = conn.Quit()
			continue
		default:
		}
		return s.connect(ctx)
	}
}

// returnConnection returns a connection to the pool or closes it if the pool is full
func (s *FTPStore) returnConnection(conn *ftp.ServerConn) {
	select {
	case s.connPool <- conn:
	default:
		if err := conn.Quit(); err != nil {
			s.log.Debug("failed to close connection", logger.Error(err))
		}
	}
}

// connect dials and logs in, honoring ctx.
func (s *FTPStore) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(s.config.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp: connection failed: %w", err)
	}

	if s.config.Username != "" {
		if err := conn.Login(s.config.Username, s.config.Password); err != nil {
			_ = conn.Quit()
			return nil, fmt.Errorf("ftp: login failed: %w", err)
		}
	}
	return conn, nil
}

// Close quits every pooled connection.
func (s *FTPStore) Close() error {
	for {
		select {
		case conn := <-s.connPool:
			_ = conn.Quit()
		default:
			return nil
		}
	}
}

// Put stores r at basePath/key through a temporary name and a rename.
func (s *FTPStore) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	var conn *ftp.ServerConn
	err := WithRetry(ctx, s.retry, func() error {
		var err error
		conn, err = s.getConnection(ctx)
		return err
	})
	if err != nil {
		return unreachable(s.Name(), err)
	}

	remotePath := path.Join(s.config.BasePath, key)
	if err := s.upload(ctx, conn, remotePath, r); err != nil {
		_ = conn.Quit()
		return putError(s.Name(), remotePath, err)
	}
	s.returnConnection(conn)
	return nil
}

func (s *FTPStore) upload(ctx context.Context, conn *ftp.ServerConn, remotePath string, r io.Reader) error {
	if err := s.createDirectory(conn, path.Dir(remotePath)); err != nil {
		return err
	}

	tempName := path.Join(path.Dir(remotePath), fmt.Sprintf("tmp-%d-%s", time.Now().UnixNano(), path.Base(remotePath)))
	if err := conn.Stor(tempName, ctxReader{ctx: ctx, r: r}); err != nil {
		_ = conn.Delete(tempName)
		return fmt.Errorf("ftp: failed to store file: %w", err)
	}
	if err := conn.Rename(tempName, remotePath); err != nil {
		_ = conn.Delete(tempName)
		return fmt.Errorf("ftp: failed to rename temporary file: %w", err)
	}
	return nil
}

// createDirectory creates dirPath one component at a time. Servers answer
// MKD on an existing directory with 550, which is not an error here.
func (s *FTPStore) createDirectory(conn *ftp.ServerConn, dirPath string) error {
	if dirPath == "" || dirPath == "." || dirPath == "/" {
		return nil
	}

	current := ""
	if strings.HasPrefix(dirPath, "/") {
		current = "/"
	}
	for part := range strings.SplitSeq(strings.Trim(dirPath, "/"), "/") {
		current = path.Join(current, part)
		if err := conn.MakeDir(current); err != nil && !isDirExists(err) {
			return fmt.Errorf("ftp: failed to create directory %s: %w", current, err)
		}
	}
	return nil
}

func isDirExists(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "file exists") ||
		strings.Contains(errStr, "already exists") ||
		strings.Contains(errStr, "directory exists") ||
		strings.Contains(errStr, "550")
}

// Validate connects and creates then removes a probe directory.
func (s *FTPStore) Validate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	conn, err := s.getConnection(ctx)
	if err != nil {
		return unreachable(s.Name(), err)
	}
	defer s.returnConnection(conn)

	testDir := path.Join(s.config.BasePath, ".write_test")
	if err := s.createDirectory(conn, testDir); err != nil {
		return unreachable(s.Name(), err)
	}
	if err := conn.RemoveDir(testDir); err != nil {
		s.log.Warn("failed to remove test directory",
			logger.String("path", testDir),
			logger.Error(err))
	}
	return nil
}
