// Package rpcwire adapts the coordinator to net/rpc's Args, *Reply error
// calling convention: a plain Go struct registered with net/rpc and
// served over HTTP framing on a Unix domain socket listener.
package rpcwire

import (
	"context"

	"github.com/containers/nv-dhcp-proxy/internal/coordinator"
	"github.com/containers/nv-dhcp-proxy/internal/lease"
)

// NetworkConfig mirrors coordinator.NetworkConfig; it is the wire-level
// request type net/rpc marshals with encoding/gob.
type NetworkConfig = coordinator.NetworkConfig

// Lease is the wire-level response type for Setup and Teardown. It is
// encoding/gob-safe (exported fields only) and JSON-shape-identical to
// lease.Lease, which is what the client CLI ultimately pretty-prints.
type Lease = lease.Lease

// OperationResponse mirrors coordinator.OperationResponse.
type OperationResponse = coordinator.OperationResponse

// Empty is the request body for Clean.
type Empty struct{}

// Service is the net/rpc-registered type; each exported method matches
// net/rpc's func(Args, *Reply) error signature.
type Service struct {
	Coordinator *coordinator.Coordinator
}

// Setup is the net/rpc entry point for Coordinator.Setup.
func (s *Service) Setup(req NetworkConfig, reply *Lease) error {
	l, err := s.Coordinator.Setup(context.Background(), req)
	if err != nil {
		return err
	}
	*reply = l
	return nil
}

// Teardown is the net/rpc entry point for Coordinator.Teardown.
func (s *Service) Teardown(req NetworkConfig, reply *Lease) error {
	l, err := s.Coordinator.Teardown(context.Background(), req)
	if err != nil {
		return err
	}
	*reply = l
	return nil
}

// Clean is the net/rpc entry point for Coordinator.Clean.
func (s *Service) Clean(_ Empty, reply *OperationResponse) error {
	resp, err := s.Coordinator.Clean(context.Background())
	if err != nil {
		return err
	}
	*reply = resp
	return nil
}
