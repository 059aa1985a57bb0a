// Package lifecycle owns daemon startup and signal-driven teardown:
// parsing options, binding the Unix domain socket (with systemd socket
// activation support), opening the cache, registering the RPC service,
// and unwinding cleanly on SIGINT/SIGTERM.
package lifecycle

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alexflint/go-filemutex"
	"github.com/coreos/go-systemd/v22/activation"
	"github.com/sirupsen/logrus"

	"github.com/containers/nv-dhcp-proxy/internal/cache"
	"github.com/containers/nv-dhcp-proxy/internal/coordinator"
	"github.com/containers/nv-dhcp-proxy/internal/rpcwire"
)

var log = logrus.WithField("component", "lifecycle")

// ErrSignalShutdown is returned by Run when it unwinds because of an
// incoming SIGINT/SIGTERM, so main can exit 1 on a signal-induced shutdown
// while still distinguishing it from a startup or serve failure.
var ErrSignalShutdown = errors.New("shutdown requested by signal")

// Options are the daemon's invariant CLI inputs, per spec: cache
// directory, UDS path, DHCP per-poll timeout.
type Options struct {
	Dir     string
	UDS     string
	Timeout time.Duration
}

// DefaultOptions mirrors the CLI's defaults.
func DefaultOptions() Options {
	return Options{
		Dir:     "/run/nv-dhcp",
		UDS:     "/run/nv-dhcp/nv-dhcp-uds.sock",
		Timeout: 8 * time.Second,
	}
}

// Run executes the full daemon lifecycle: bind, serve, and block until a
// termination signal unwinds it. It returns a startup or serve failure,
// ErrSignalShutdown after a signal-driven shutdown, or nil when the
// server stops on its own without error.
func Run(opts Options) error {
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return fmt.Errorf("create cache directory %q: %w", opts.Dir, err)
	}
	if err := os.MkdirAll(filepath.Dir(opts.UDS), 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	lockPath := filepath.Join(opts.Dir, "nv-dhcp-proxy.lock")
	lock, err := filemutex.New(lockPath)
	if err != nil {
		return fmt.Errorf("open daemon lock %q: %w", lockPath, err)
	}
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire daemon lock %q (already running?): %w", lockPath, err)
	}
	defer lock.Close()

	snapshotPath := filepath.Join(opts.Dir, "nv-dhcp-leases.json")
	c, err := cache.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("open lease cache: %w", err)
	}

	listener, err := getListener(opts.UDS)
	if err != nil {
		return fmt.Errorf("bind Unix domain socket %q: %w", opts.UDS, err)
	}

	coord := coordinator.New(c, opts.Timeout)
	service := &rpcwire.Service{Coordinator: coord}

	server := rpc.NewServer()
	if err := server.RegisterName("Coordinator", service); err != nil {
		return fmt.Errorf("register RPC service: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, server)

	httpServer := &http.Server{Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	log.WithFields(logrus.Fields{"uds": opts.UDS, "dir": opts.Dir, "timeout": opts.Timeout}).
		Info("daemon ready to receive requests")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var signaled bool
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("received shutdown signal")
		signaled = true
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("rpc server stopped: %w", err)
		}
	}

	_ = httpServer.Close()
	if err := os.Remove(opts.UDS); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to remove UDS file on shutdown")
	}

	// The cache snapshot is already current by the write-through
	// invariant; shutdown only releases resources, it does not clear
	// the in-memory map (that is the RPC Clean operation's job).
	if signaled {
		return ErrSignalShutdown
	}
	return nil
}

// getListener obtains a Unix domain socket listener, preferring a
// systemd-activated socket (LISTEN_FDS) over binding one directly.
func getListener(socketPath string) (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, err
	}

	switch len(listeners) {
	case 0:
		if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
			return nil, err
		}
		if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale socket %q: %w", socketPath, err)
		}
		l, err := net.Listen("unix", socketPath)
		if err != nil {
			return nil, err
		}
		if err := os.Chmod(socketPath, 0o660); err != nil {
			return nil, err
		}
		return l, nil

	case 1:
		if listeners[0] == nil {
			return nil, fmt.Errorf("LISTEN_FDS=1 but no FD found")
		}
		return listeners[0], nil

	default:
		return nil, fmt.Errorf("too many (%d) FDs passed through socket activation", len(listeners))
	}
}
