// Package coordinator binds the DHCP session, lease cache and interface
// applicator into the three RPC-facing operations: Setup, Teardown, Clean.
package coordinator

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/containers/nv-dhcp-proxy/internal/cache"
	"github.com/containers/nv-dhcp-proxy/internal/dhcpsession"
	"github.com/containers/nv-dhcp-proxy/internal/ifconfig"
	"github.com/containers/nv-dhcp-proxy/internal/lease"
	"github.com/containers/nv-dhcp-proxy/internal/nverrors"
)

var tracer = otel.Tracer("nv-dhcp-proxy/coordinator")

// NetworkConfig is the RPC request body consumed by Setup and Teardown.
type NetworkConfig struct {
	ContainerIface   string `json:"container_iface"`
	HostIface        string `json:"host_iface"`
	ContainerMacAddr string `json:"container_mac_addr"`
	DomainName       string `json:"domain_name"`
	HostName         string `json:"host_name"`
	Version          int32  `json:"version"`
	NsPath           string `json:"ns_path"`
}

// OperationResponse is the RPC response body for Clean.
type OperationResponse struct {
	Success bool `json:"success"`
}

// Coordinator is the per-daemon orchestrator: one instance serves every
// RPC connection, each on its own goroutine.
type Coordinator struct {
	Cache   *cache.Cache
	Timeout time.Duration

	// newSession is overridable in tests; defaults to dhcpsession.New.
	newSession func(iface string, version int32, timeout time.Duration) (dhcpSession, error)
	// applySetup/applyTeardown are overridable in tests; default to the
	// ifconfig package functions.
	applySetup    func(l lease.Lease, ifaceName, nsPath string) error
	applyTeardown func(ifaceName, nsPath string) error
}

// dhcpSession is the subset of *dhcpsession.Session the coordinator needs;
// named here so tests can substitute a fake.
type dhcpSession interface {
	GetLease(ctx context.Context, mac lease.MacAddress, domainName string) (lease.Lease, error)
	Close() error
}

// New builds a Coordinator wired to production collaborators.
func New(c *cache.Cache, timeout time.Duration) *Coordinator {
	return &Coordinator{
		Cache:   c,
		Timeout: timeout,
		newSession: func(iface string, version int32, timeout time.Duration) (dhcpSession, error) {
			return dhcpsession.New(iface, version, timeout)
		},
		applySetup:    ifconfig.Setup,
		applyTeardown: ifconfig.Teardown,
	}
}

// record annotates the active span with the operation's outcome kind,
// giving every Setup/Teardown/Clean call a queryable status attribute
// without requiring a metrics backend to be configured.
func (c *Coordinator) record(ctx context.Context, op string, kind nverrors.StatusKind) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("operation", op), attribute.String("status", kind.String()))
	if kind != nverrors.Unknown {
		span.SetStatus(codes.Error, kind.String())
	}
}

// Setup validates the request, drives a DHCP lease acquisition, persists
// it to the cache, applies it inside the container's namespace, and
// returns the resulting lease.
func (c *Coordinator) Setup(ctx context.Context, req NetworkConfig) (lease.Lease, error) {
	ctx, span := tracer.Start(ctx, "Setup")
	defer span.End()

	mac, err := lease.ParseMAC(req.ContainerMacAddr)
	if err != nil {
		c.record(ctx, "Setup", nverrors.InvalidArgument)
		return lease.Lease{}, nverrors.Wrap(nverrors.InvalidArgument, err, "validate container_mac_addr")
	}

	l, err := c.acquireLease(ctx, req, mac)
	if err != nil {
		c.record(ctx, "Setup", nverrors.AsStatus(err).Kind)
		return lease.Lease{}, err
	}

	if err := c.Cache.Add(mac, l); err != nil {
		c.record(ctx, "Setup", nverrors.Storage)
		return lease.Lease{}, nverrors.Wrap(nverrors.Internal, err, "persist lease")
	}

	// Applied after persisting: a known gap (see DESIGN.md) — if this
	// fails, the cache entry is not automatically rolled back.
	if err := c.applySetup(l, req.ContainerIface, req.NsPath); err != nil {
		c.record(ctx, "Setup", nverrors.Internal)
		return lease.Lease{}, nverrors.Wrap(nverrors.Internal, err, "apply interface configuration")
	}

	c.record(ctx, "Setup", nverrors.Unknown)
	return l, nil
}

// acquireLease runs the blocking DHCP session on a dedicated, locked OS
// thread and joins its result back into the caller's goroutine — the DHCP
// client's blocking file descriptors must never be scheduled onto a
// goroutine the RPC listener depends on to keep accepting connections.
func (c *Coordinator) acquireLease(ctx context.Context, req NetworkConfig, mac lease.MacAddress) (lease.Lease, error) {
	type result struct {
		l   lease.Lease
		err error
	}
	done := make(chan result, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		session, err := c.newSession(req.ContainerIface, req.Version, c.Timeout)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer session.Close()

		l, err := session.GetLease(ctx, mac, req.DomainName)
		done <- result{l: l, err: err}
	}()

	select {
	case r := <-done:
		return r.l, r.err
	case <-ctx.Done():
		return lease.Lease{}, nverrors.Wrap(nverrors.Timeout, ctx.Err(), "dhcp session cancelled")
	}
}

// Teardown removes the cache entry for the request's MAC (absence is not
// an error) and optionally purges the interface configuration, returning
// a lease body that echoes only the request's MAC.
func (c *Coordinator) Teardown(ctx context.Context, req NetworkConfig) (lease.Lease, error) {
	ctx, span := tracer.Start(ctx, "Teardown")
	defer span.End()

	mac, err := lease.ParseMAC(req.ContainerMacAddr)
	if err != nil {
		c.record(ctx, "Teardown", nverrors.InvalidArgument)
		return lease.Lease{}, nverrors.Wrap(nverrors.InvalidArgument, err, "validate container_mac_addr")
	}

	if _, err := c.Cache.Remove(mac); err != nil {
		c.record(ctx, "Teardown", nverrors.Storage)
		return lease.Lease{}, nverrors.Wrap(nverrors.Internal, err, "remove cache entry")
	}

	if req.NsPath != "" {
		if err := c.applyTeardown(req.ContainerIface, req.NsPath); err != nil {
			c.record(ctx, "Teardown", nverrors.Internal)
			return lease.Lease{}, nverrors.Wrap(nverrors.Internal, err, "purge interface configuration")
		}
	}

	c.record(ctx, "Teardown", nverrors.Unknown)
	return lease.Zero(mac), nil
}

// Clean wipes the entire cache.
func (c *Coordinator) Clean(ctx context.Context) (OperationResponse, error) {
	ctx, span := tracer.Start(ctx, "Clean")
	defer span.End()

	if err := c.Cache.Teardown(); err != nil {
		c.record(ctx, "Clean", nverrors.Storage)
		return OperationResponse{}, nverrors.Wrap(nverrors.Internal, err, "clear cache")
	}

	c.record(ctx, "Clean", nverrors.Unknown)
	return OperationResponse{Success: true}, nil
}
