package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/fincoach/internal/domain"
)

// ChatMethod is the server-streaming RPC the assistant service exposes. The
// request and every response are google.protobuf.Struct messages.
const ChatMethod = "/fincoach.assistant.v1.AssistantService/Chat"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errChatResponse             = errors.New("chat response returned error")
)

var chatStreamDesc = &grpc.StreamDesc{
	StreamName:    "Chat",
	ServerStreams: true,
}

// GrpcConfig holds configuration for the gRPC responder.
type GrpcConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcConfig returns default configuration for addr.
func DefaultGrpcConfig(addr string) GrpcConfig {
	return GrpcConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   60 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcResponder streams replies from the remote assistant service.
type GrpcResponder struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpcResponder connects to the assistant service and waits until the
// connection is ready. Extra dial options are appended to the defaults.
func NewGrpcResponder(cfg GrpcConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcResponder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to assistant at %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint instead of on the first chat turn.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("assistant at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to assistant service", "address", cfg.Address)
	return &GrpcResponder{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (g *GrpcResponder) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health checks the assistant service using the standard gRPC health protocol.
func (g *GrpcResponder) Health(ctx context.Context) error {
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("assistant status %s", resp.GetStatus())
	}
	return nil
}

func encodeRequest(req Request) (*structpb.Struct, error) {
	docs := make([]any, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = d
	}
	return structpb.NewStruct(map[string]any{
		"userId":    req.UserID,
		"sessionId": req.SessionID,
		"message":   req.Message,
		"documents": docs,
		"courseId":  req.CourseID,
	})
}

// Reply opens a Chat stream and yields one chunk per response message.
// A response of type "error" ends the stream with an error.
func (g *GrpcResponder) Reply(ctx context.Context, req Request) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		msg, err := encodeRequest(req)
		if err != nil {
			yield(nil, fmt.Errorf("encode chat request: %w", err))
			return
		}

		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		stream, err := g.conn.NewStream(ctx, chatStreamDesc, ChatMethod)
		if err != nil {
			yield(nil, fmt.Errorf("chat request failed: %w", err))
			return
		}
		if err := stream.SendMsg(msg); err != nil {
			yield(nil, fmt.Errorf("chat request failed: %w", err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(nil, fmt.Errorf("chat request failed: %w", err))
			return
		}

		for {
			resp := &structpb.Struct{}
			err := stream.RecvMsg(resp)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("chat stream error: %w", err))
				return
			}

			fields := resp.GetFields()
			if fields["type"].GetStringValue() == "error" {
				errMsg := fields["error"].GetStringValue()
				if errMsg == "" {
					yield(nil, errChatResponse)
					return
				}
				yield(nil, fmt.Errorf("%w: %s", errChatResponse, errMsg))
				return
			}

			chunk := &Chunk{
				Content: fields["content"].GetStringValue(),
				Topic:   domain.Topic(fields["topic"].GetStringValue()),
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}
