package host

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/courier-dev/courier/agent"
	obsmetrics "github.com/courier-dev/courier/pkg/observability"
	"github.com/courier-dev/courier/proto"
)

// dispatchServiceServer exposes the host over the DispatchService RPC surface.
type dispatchServiceServer struct {
	proto.UnimplementedDispatchServiceServer
	host *Service
}

func (s *Service) bindGRPC() error {
	lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.GRPCAddr, err)
	}

	srv := grpc.NewServer()
	proto.RegisterDispatchServiceServer(srv, &dispatchServiceServer{host: s})

	s.mu.Lock()
	s.grpcListener = lis
	s.grpcServer = srv
	s.mu.Unlock()
	return nil
}

func (s *Service) serveGRPC() {
	s.mu.RLock()
	srv, lis := s.grpcServer, s.grpcListener
	s.mu.RUnlock()
	if srv == nil || lis == nil {
		return
	}

	log.Printf("[Host] gRPC listening on %s", lis.Addr())
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Printf("[Host] gRPC server error: %v", err)
		}
	}()
}

// Submit dispatches one envelope and returns the aggregated reply.
func (d *dispatchServiceServer) Submit(ctx context.Context, req *proto.SubmitRequest) (*proto.SubmitResponse, error) {
	if req.Envelope == nil {
		d.record("Submit", codes.InvalidArgument)
		return nil, status.Errorf(codes.InvalidArgument, "envelope is required")
	}

	result, err := d.host.Submit(ctx, envelopeFromProto(req.Envelope))
	if err != nil {
		if errors.Is(err, ErrDropped) {
			d.record("Submit", codes.OK)
			return &proto.SubmitResponse{Reply: &proto.DispatchReply{Status: "dropped"}}, nil
		}
		code := submitErrorCode(err)
		d.record("Submit", code)
		return nil, status.Errorf(code, "%v", err)
	}

	switch {
	case result.Status == agent.StatusNotFound && d.host.cfg.OnUnmatched == OnUnmatchedError:
		d.record("Submit", codes.NotFound)
		return nil, status.Errorf(codes.NotFound, "no handler bound for type %q", req.Envelope.Type)
	case result.Cancelled():
		d.record("Submit", codes.Canceled)
		return nil, status.Errorf(codes.Canceled, "dispatch cancelled: %v", result.Err())
	}

	d.record("Submit", codes.OK)
	return &proto.SubmitResponse{Reply: replyToProto(result)}, nil
}

// GetState reports the host's lifecycle state and load.
func (d *dispatchServiceServer) GetState(ctx context.Context, req *proto.StateRequest) (*proto.StateResponse, error) {
	d.record("GetState", codes.OK)
	return &proto.StateResponse{
		State:    string(d.host.State()),
		InFlight: int32(d.host.InFlight()),
		Bindings: int32(d.host.registry.Size()),
	}, nil
}

func (d *dispatchServiceServer) record(method string, code codes.Code) {
	if d.host.cfg.EnableMetrics {
		obsmetrics.RecordGRPCRequest(method, code.String())
	}
}

// submitErrorCode maps a Submit error to a gRPC status code.
func submitErrorCode(err error) codes.Code {
	switch {
	case errors.Is(err, agent.ErrInvalidEnvelope):
		return codes.InvalidArgument
	case errors.Is(err, ErrRateLimited):
		return codes.ResourceExhausted
	case errors.Is(err, ErrNotRunning), errors.Is(err, ErrDraining):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
