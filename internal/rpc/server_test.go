package rpc

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/faceattend/faceattend/internal/config"
	"github.com/faceattend/faceattend/internal/engine"
	"github.com/faceattend/faceattend/internal/store"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T, mutate func(cfg *config.Config)) *Client {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.DatabasePath = filepath.Join(cfg.Storage.DataDir, "faceattend.db")
	if mutate != nil {
		mutate(cfg)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st, err := store.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	e, err := engine.NewEngine(cfg, logger, st, nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(e, logger)
	go func() { _ = srv.Serve(lis) }()

	client, err := NewClient("passthrough:///bufnet", 5*time.Second,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
		srv.Stop()
		_ = e.Close()
	})

	return client
}

func grayPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 90
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestCheck(t *testing.T) {
	client := startServer(t, nil)
	ctx := context.Background()

	t.Run("FlatImage", func(t *testing.T) {
		resp, err := client.Check(ctx, "kiosk-1", grayPNG(t))
		if err != nil {
			t.Fatalf("Failed to check: %v", err)
		}

		if resp.IsLive {
			t.Error("Expected flat image not to be live")
		}
		if resp.LivenessScore == nil || *resp.LivenessScore != 0 {
			t.Errorf("Expected score 0, got %v", resp.LivenessScore)
		}
		if resp.Source != "kiosk-1" {
			t.Errorf("Expected source 'kiosk-1', got '%s'", resp.Source)
		}
		if len(resp.Reasons) == 0 {
			t.Error("Expected reasons for a spoof verdict")
		}
		if resp.Features == nil {
			t.Error("Expected features in response")
		}
	})

	t.Run("Corrupt", func(t *testing.T) {
		resp, err := client.Check(ctx, "kiosk-2", []byte("nope"))
		if err != nil {
			t.Fatalf("Failed to check: %v", err)
		}
		if resp.IsLive || !strings.Contains(resp.Reason, "decode") {
			t.Errorf("Expected decode failure verdict, got %+v", resp)
		}
	})
}

func TestCheckLocked(t *testing.T) {
	client := startServer(t, func(cfg *config.Config) {
		cfg.Guard.MaxSpoofAttempts = 1
	})
	ctx := context.Background()

	if _, err := client.Check(ctx, "kiosk-1", grayPNG(t)); err != nil {
		t.Fatalf("Failed to check: %v", err)
	}

	_, err := client.Check(ctx, "kiosk-1", grayPNG(t))
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("Expected ResourceExhausted, got %v", err)
	}
}

func TestSourceFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"NoPeer", context.Background(), "grpc"},
		{
			"Metadata",
			metadata.NewIncomingContext(
				peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 4242}}),
				metadata.Pairs(SourceMetadataKey, "kiosk-9"),
			),
			"kiosk-9",
		},
		{
			"TCPPeer",
			peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 4242}}),
			"10.0.0.7",
		},
		{
			"IPv6Peer",
			peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("::1"), Port: 4242}}),
			"::1",
		},
		{
			"PipePeer",
			peer.NewContext(context.Background(), &peer.Peer{Addr: pipeAddr{}}),
			"pipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sourceFromContext(tt.ctx); got != tt.want {
				t.Errorf("Expected source '%s', got '%s'", tt.want, got)
			}
		})
	}
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

// Spoofs without a source header are attributed to the client host, so new
// connections from the same host share one lockout
func TestCheckLockedAcrossConnections(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.DatabasePath = filepath.Join(cfg.Storage.DataDir, "faceattend.db")
	cfg.Guard.MaxSpoofAttempts = 2

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	e, err := engine.NewEngine(cfg, logger, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer func() { _ = e.Close() }()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	srv := NewServer(e, logger)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		client, err := NewClient(lis.Addr().String(), 5*time.Second)
		if err != nil {
			t.Fatalf("Failed to create client: %v", err)
		}
		resp, err := client.Check(ctx, "", grayPNG(t))
		_ = client.Close()

		if i < 2 {
			if err != nil {
				t.Fatalf("Attempt %d: expected a verdict, got %v", i+1, err)
			}
			if resp.Source != "127.0.0.1" {
				t.Errorf("Attempt %d: expected source '127.0.0.1', got '%s'", i+1, resp.Source)
			}
			continue
		}
		if status.Code(err) != codes.ResourceExhausted {
			t.Errorf("Attempt %d: expected ResourceExhausted, got %v", i+1, err)
		}
	}
}

var _ LivenessServer = (*Server)(nil)
