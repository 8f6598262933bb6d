package testkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/sha1n/ace-mcp-api/internal/app"
	"github.com/spf13/pflag"
)

// Service represents a test service that can be started and stopped
type Service interface {
	Start() (map[string]any, error)
	Stop() error
	GetName() string
}

// TestEnvContext provides access to properties collected during environment startup
type TestEnvContext interface {
	GetProperties() map[string]any
	GetProperty(name string) (any, bool)
}

// TestEnv manages the lifecycle of test services
type TestEnv interface {
	Start() (map[string]any, error)
	Stop() error
	GetContext() TestEnvContext
}

type testEnvContextImpl struct {
	properties map[string]any
}

func (c *testEnvContextImpl) GetProperties() map[string]any {
	return c.properties
}

func (c *testEnvContextImpl) GetProperty(name string) (any, bool) {
	val, ok := c.properties[name]
	return val, ok
}

type testEnvImpl struct {
	services []Service
	context  *testEnvContextImpl
}

// NewTestEnv creates a new test environment with the given services
func NewTestEnv(services ...Service) TestEnv {
	return &testEnvImpl{
		services: services,
		context:  &testEnvContextImpl{properties: make(map[string]any)},
	}
}

func (e *testEnvImpl) Start() (map[string]any, error) {
	for _, s := range e.services {
		props, err := s.Start()
		if err != nil {
			return nil, err
		}
		for k, v := range props {
			e.context.properties[k] = v
		}
	}
	return e.context.properties, nil
}

func (e *testEnvImpl) Stop() error {
	var lastErr error
	// Stop in reverse order
	for i := len(e.services) - 1; i >= 0; i-- {
		if err := e.services[i].Stop(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (e *testEnvImpl) GetContext() TestEnvContext {
	return e.context
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port      int    // Uses free port if 0
	AuthType  string // Defaults to "none"
	AuthToken string // Only set when non-empty
	Host      string // Defaults to "localhost"
}

// NewTestFlags creates a configured pflag.FlagSet for testing
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)

	port := 0
	authType := "none"
	host := "localhost"

	if opts != nil {
		if opts.Port != 0 {
			port = opts.Port
		}
		if opts.AuthType != "" {
			authType = opts.AuthType
		}
		if opts.Host != "" {
			host = opts.Host
		}
		if opts.AuthToken != "" {
			_ = flags.Set("auth-token", opts.AuthToken)
		}
	}

	if port == 0 {
		port = MustGetFreePort(t)
	}

	_ = flags.Set("port", fmt.Sprintf("%d", port))
	_ = flags.Set("auth-type", authType)
	_ = flags.Set("host", host)

	return flags
}

// Property keys published by ServerService.Start
const (
	PropBaseURL = "base_url"
	PropPort    = "port"
)

// ServerService runs the real HTTP server in-process for the lifetime of a TestEnv
type ServerService struct {
	flags        *pflag.FlagSet
	params       app.RunParams
	readyTimeout time.Duration

	cancel context.CancelFunc
	done   chan error
}

// NewServerService creates a service that runs app.RunWithDeps with the given flags.
// Logs are discarded unless params.LogOutput is set.
func NewServerService(flags *pflag.FlagSet, params app.RunParams) *ServerService {
	if params.LogOutput == nil {
		params.LogOutput = io.Discard
	}
	return &ServerService{
		flags:        flags,
		params:       params,
		readyTimeout: 5 * time.Second,
	}
}

// GetName implements Service
func (s *ServerService) GetName() string {
	return "ace-api"
}

// Start runs the server and blocks until /health answers
func (s *ServerService) Start() (map[string]any, error) {
	host, err := s.flags.GetString("host")
	if err != nil {
		return nil, err
	}
	port, err := s.flags.GetInt("port")
	if err != nil {
		return nil, err
	}
	baseURL := "http://" + net.JoinHostPort(host, strconv.Itoa(port))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		s.done <- app.RunWithDeps(ctx, s.params, s.flags, "test")
	}()

	if err := s.waitReady(baseURL + "/health"); err != nil {
		_ = s.Stop()
		return nil, err
	}

	return map[string]any{
		PropBaseURL: baseURL,
		PropPort:    port,
	}, nil
}

func (s *ServerService) waitReady(url string) error {
	deadline := time.Now().Add(s.readyTimeout)
	client := &http.Client{Timeout: 500 * time.Millisecond}
	for time.Now().Before(deadline) {
		select {
		case err := <-s.done:
			s.done = nil
			if err == nil {
				err = errors.New("server exited before becoming ready")
			}
			return err
		default:
		}

		resp, err := client.Get(url)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %s", s.readyTimeout)
}

// Stop cancels the server context and waits for shutdown
func (s *ServerService) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	if s.done == nil {
		return nil
	}
	select {
	case err := <-s.done:
		s.done = nil
		return err
	case <-time.After(app.ShutdownTimeout + time.Second):
		return errors.New("server did not stop in time")
	}
}
