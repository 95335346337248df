// Package rpc implements the cross-plane RPC boundary the controller
// uses to talk to a data-plane process: reduceCapacity, startWorkerFastFail,
// and broadcastContainerStatusReport (spec §1's out-of-scope
// "DataPlaneClientManager.reduceCapacity, startWorkerFastFail"). The core
// depends only on the DataPlaneClientManager interface; grpcManager is one
// concrete transport, using a hand-written JSON codec in place of the
// generated protobuf stubs the teacher's control/proto module normally
// supplies.
package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/xuandao/noslated/internal/broker"
)

// BrokerCapacityRequest names one broker's victims within a batched
// reduceCapacity call: function name, inspector flag, and the victims'
// credentials. Victims are identified by credential only; worker names are
// not carried.
type BrokerCapacityRequest struct {
	FunctionName string
	Inspector    bool
	Credentials  []string
}

// ReduceCapacityRequest batches every victim the controller wants a
// data-plane process to drain for one shrink pass, across every broker
// that has a shrink delta this tick (spec §4.4.3: "Batch all victims into
// one reduceCapacity call").
type ReduceCapacityRequest struct {
	Brokers []BrokerCapacityRequest
}

// BrokerCapacityResponse returns the subset of one broker's requested
// credentials the data plane actually drained.
type BrokerCapacityResponse struct {
	FunctionName string
	Drained      []string
}

// ReduceCapacityResponse mirrors ReduceCapacityRequest, one entry per
// broker that was asked to drain victims.
type ReduceCapacityResponse struct {
	Brokers []BrokerCapacityResponse
}

// FastFailRequest mirrors broker.FastFailRequest across the wire.
type FastFailRequest struct {
	Broker  string
	Fatal   bool
	Message string
}

// DataPlaneClientManager is the RPC boundary DefaultController calls
// through. Implementations may fan out to one data-plane process or many
// (keyed by function/broker name at the caller's discretion).
type DataPlaneClientManager interface {
	ReduceCapacity(ctx context.Context, req ReduceCapacityRequest) (ReduceCapacityResponse, error)
	StartWorkerFastFail(ctx context.Context, req FastFailRequest) error
	BroadcastContainerStatusReport(ctx context.Context, event broker.ContainerEvent) error
}

// grpcManager implements DataPlaneClientManager over a single grpc.ClientConn
// using the jsonCodec (see codec.go) so the wire format stays introspectable
// without a protoc-generated stub.
type grpcManager struct {
	conn *grpc.ClientConn
}

// NewGRPCManager wraps an established connection to a data-plane process.
func NewGRPCManager(conn *grpc.ClientConn) DataPlaneClientManager {
	return &grpcManager{conn: conn}
}

func (m *grpcManager) ReduceCapacity(ctx context.Context, req ReduceCapacityRequest) (ReduceCapacityResponse, error) {
	var resp ReduceCapacityResponse
	if err := m.conn.Invoke(ctx, "/noslated.dataplane.DataPlane/ReduceCapacity", &req, &resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return ReduceCapacityResponse{}, fmt.Errorf("rpc: reduceCapacity: %w", err)
	}
	return resp, nil
}

func (m *grpcManager) StartWorkerFastFail(ctx context.Context, req FastFailRequest) error {
	var empty struct{}
	if err := m.conn.Invoke(ctx, "/noslated.dataplane.DataPlane/StartWorkerFastFail", &req, &empty, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return fmt.Errorf("rpc: startWorkerFastFail: %w", err)
	}
	return nil
}

func (m *grpcManager) BroadcastContainerStatusReport(ctx context.Context, event broker.ContainerEvent) error {
	var empty struct{}
	if err := m.conn.Invoke(ctx, "/noslated.dataplane.DataPlane/BroadcastContainerStatusReport", &event, &empty, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return fmt.Errorf("rpc: broadcastContainerStatusReport: %w", err)
	}
	return nil
}

// errUnimplemented maps a missing server-side handler the way the
// teacher's authenticator maps missing credentials, reusing the same
// codes/status package purely for its canonical names.
var errUnimplemented = status.Error(codes.Unimplemented, "rpc: data plane did not implement this method")
