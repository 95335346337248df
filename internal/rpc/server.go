package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/xuandao/noslated/internal/broker"
)

// DataPlaneServer is implemented by the data-plane process and invoked by
// the control plane's grpcManager client. One BrokerLookup resolves a
// broker by name; the handlers below are thin dispatch over it.
type DataPlaneServer interface {
	ReduceCapacity(ctx context.Context, req ReduceCapacityRequest) (ReduceCapacityResponse, error)
	StartWorkerFastFail(ctx context.Context, req FastFailRequest) error
}

// BrokerLookup resolves a broker by function name.
type BrokerLookup func(name string) (*broker.WorkerBroker, error)

// dataPlaneServerImpl adapts a BrokerLookup into a DataPlaneServer by
// removing workers directly: spec §4.4.3 treats "drained" as the data
// plane's own judgment call. Here every requested credential that is
// currently bound is removed from the broker's index and reported drained
// at once; traffic is not closed first and in-flight requests are not
// waited for.
type dataPlaneServerImpl struct {
	lookup BrokerLookup
}

// NewDataPlaneServer constructs the RPC-facing implementation wrapping lookup.
func NewDataPlaneServer(lookup BrokerLookup) DataPlaneServer {
	return &dataPlaneServerImpl{lookup: lookup}
}

func (s *dataPlaneServerImpl) ReduceCapacity(ctx context.Context, req ReduceCapacityRequest) (ReduceCapacityResponse, error) {
	resp := ReduceCapacityResponse{Brokers: make([]BrokerCapacityResponse, 0, len(req.Brokers))}

	for _, br := range req.Brokers {
		b, err := s.lookup(br.FunctionName)
		if err != nil {
			return ReduceCapacityResponse{}, err
		}

		drained := make([]string, 0, len(br.Credentials))
		for _, credential := range br.Credentials {
			for _, snap := range b.Snapshot() {
				if snap.Credential != credential {
					continue
				}
				b.RemoveWorker(credential)
				drained = append(drained, credential)
				break
			}
		}
		resp.Brokers = append(resp.Brokers, BrokerCapacityResponse{FunctionName: br.FunctionName, Drained: drained})
	}
	return resp, nil
}

func (s *dataPlaneServerImpl) StartWorkerFastFail(ctx context.Context, req FastFailRequest) error {
	b, err := s.lookup(req.Broker)
	if err != nil {
		return err
	}
	b.FastFailAllPendingsDueToStartError(broker.FastFailRequest{Fatal: req.Fatal, Message: req.Message})
	return nil
}

// ServiceDesc is the hand-rolled grpc.ServiceDesc standing in for a
// protoc-generated one — one entry per DataPlaneServer method, each
// reading its request with the registered jsonCodec.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "noslated.dataplane.DataPlane",
	HandlerType: (*DataPlaneServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ReduceCapacity",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				var req ReduceCapacityRequest
				if err := dec(&req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(DataPlaneServer).ReduceCapacity(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/noslated.dataplane.DataPlane/ReduceCapacity"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(DataPlaneServer).ReduceCapacity(ctx, *req.(*ReduceCapacityRequest))
				}
				return interceptor(ctx, &req, info, handler)
			},
		},
		{
			MethodName: "StartWorkerFastFail",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				var req FastFailRequest
				if err := dec(&req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return nil, srv.(DataPlaneServer).StartWorkerFastFail(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/noslated.dataplane.DataPlane/StartWorkerFastFail"}
				handler := func(ctx context.Context, req any) (any, error) {
					return nil, srv.(DataPlaneServer).StartWorkerFastFail(ctx, *req.(*FastFailRequest))
				}
				return interceptor(ctx, &req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/rpc/dataplane.proto",
}

// RegisterDataPlaneServer registers srv against s using ServiceDesc.
func RegisterDataPlaneServer(s grpc.ServiceRegistrar, srv DataPlaneServer) {
	s.RegisterService(&ServiceDesc, srv)
}
