package rpc

import (
	"context"
	"errors"
	"net"

	"github.com/faceattend/faceattend/internal/engine"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server implements LivenessServer on top of the engine
type Server struct {
	engine *engine.Engine
	logger *logrus.Logger
}

// NewServer creates a gRPC server with the liveness and health services registered
func NewServer(e *engine.Engine, logger *logrus.Logger) *grpc.Server {
	s := grpc.NewServer(grpc.UnaryInterceptor(logUnary(logger)))

	RegisterLivenessServer(s, &Server{engine: e, logger: logger})

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	return s
}

// Check scores the encoded image in req
func (s *Server) Check(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	result, err := s.engine.Check(ctx, sourceFromContext(ctx), req.GetValue())
	if err != nil {
		if errors.Is(err, engine.ErrSourceLocked) {
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		}
		s.logger.Errorf("gRPC liveness check failed: %v", err)
		return nil, status.Error(codes.Internal, "liveness check failed")
	}

	out, err := resultToStruct(result)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode result: %v", err)
	}
	return out, nil
}

// sourceFromContext prefers the source named in metadata over the peer's
// host. The port is dropped so reconnecting does not reset the guard.
func sourceFromContext(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(SourceMetadataKey); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if tcp, ok := p.Addr.(*net.TCPAddr); ok {
			return tcp.IP.String()
		}
		addr := p.Addr.String()
		if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
			return host
		}
		return addr
	}
	return "grpc"
}

func logUnary(logger *logrus.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		entry := logger.WithFields(logrus.Fields{
			"method": info.FullMethod,
			"code":   status.Code(err).String(),
		})
		if err != nil {
			entry.Debugf("gRPC call failed: %v", err)
		} else {
			entry.Debug("gRPC call handled")
		}
		return resp, err
	}
}
