// Package dhcpsession drives a one-shot DHCPv4 DORA exchange on a named
// interface, bounded by a configurable per-attempt timeout.
package dhcpsession

import (
	"context"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"

	"github.com/containers/nv-dhcp-proxy/internal/lease"
	"github.com/containers/nv-dhcp-proxy/internal/nverrors"
)

// maxAttempts bounds the retry-with-sleep allowance of the DORA loop: a
// single dropped broadcast frame should not fail the whole RPC, but the
// session must not spin forever inside one request.
const maxAttempts = 3

// retryDelay is the pause between attempts, per the "1 second sleep every
// N empty iterations" allowance.
const retryDelay = time.Second

// Session is a transient, per-request DHCP client bound to one interface.
// It is created at Setup entry, consumed exactly once by GetLease, and
// Close'd before the RPC response is returned.
type Session struct {
	iface   string
	client  *nclient4.Client
	timeout time.Duration
}

// New binds a v4 DHCP client to iface. version must be 0 (v4); any other
// value is rejected before a socket is ever opened, keeping v6 reserved
// but unimplemented, per spec.
func New(iface string, version int32, timeout time.Duration) (*Session, error) {
	if version != 0 {
		return nil, nverrors.New(nverrors.InvalidArgument, "unsupported DHCP version %d", version)
	}

	client, err := nclient4.New(iface, nclient4.WithTimeout(timeout))
	if err != nil {
		return nil, nverrors.Wrap(nverrors.InvalidArgument, err, "bind DHCP client to "+iface)
	}

	return &Session{iface: iface, client: client, timeout: timeout}, nil
}

// Close releases the session's raw socket. Dropping the session this way
// unblocks any in-flight poll at the OS level; callers must call it
// exactly once, typically via defer.
func (s *Session) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// GetLease drives the DORA exchange to completion or a bounded failure.
// On success, mac and domainName are attached to the resulting lease.
func (s *Session) GetLease(ctx context.Context, mac lease.MacAddress, domainName string) (lease.Lease, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		dhcpLease, err := s.client.Request(attemptCtx)
		cancel()

		if err == nil {
			l := lease.NewLeaseFromDHCPv4(dhcpLease.ACK).WithMAC(mac).WithNames(domainName, "")
			return l, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			// The caller's context has been canceled or its deadline
			// has passed; stop retrying.
			break
		}

		if attempt < maxAttempts-1 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
			}
		}
	}

	if ctx.Err() != nil {
		return lease.Lease{}, nverrors.Wrap(nverrors.Timeout, lastErr, "dhcp poll timed out on "+s.iface)
	}
	return lease.Lease{}, nverrors.Wrap(nverrors.NoLease, lastErr, "dhcp DORA failed on "+s.iface)
}
