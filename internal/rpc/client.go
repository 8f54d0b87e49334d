package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/faceattend/faceattend/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client manages a connection to a remote liveness service
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewClient connects to the liveness service at address and verifies it is
// serving. Extra dial options are appended to the insecure transport default.
func NewClient(address string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for liveness service at %s: %w", address, err)
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{conn: conn, timeout: timeout}

	// Check health with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		_ = conn.Close()
		return nil, fmt.Errorf("liveness service is not serving (%s)", resp.GetStatus())
	}

	return c, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Check sends an encoded image for scoring on behalf of source
func (c *Client) Check(ctx context.Context, source string, image []byte) (*api.CheckResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if source != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, SourceMetadataKey, source)
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, checkMethod, wrapperspb.Bytes(image), out); err != nil {
		return nil, err
	}

	return structToResponse(out)
}
