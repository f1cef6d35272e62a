package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// DefaultTimeout bounds a single directory call when no timeout is configured.
const DefaultTimeout = 3 * time.Second

// GRPCClient implements Client against the users service over gRPC.
type GRPCClient struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	schema  *schema
	timeout time.Duration
}

// Dial creates a client for addr. The connection is established lazily.
func Dial(addr string, timeout time.Duration, opts ...grpc.DialOption) (*GRPCClient, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial users service %s: %w", addr, err)
	}
	c, err := NewGRPCClient(conn, timeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.closer = conn.Close
	return c, nil
}

// NewGRPCClient wraps an existing connection; the caller keeps ownership of it.
func NewGRPCClient(conn grpc.ClientConnInterface, timeout time.Duration) (*GRPCClient, error) {
	s, err := buildSchema()
	if err != nil {
		return nil, fmt.Errorf("build users service schema: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GRPCClient{conn: conn, schema: s, timeout: timeout}, nil
}

func (c *GRPCClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *GRPCClient) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return c.call(ctx, MethodGetUserByEmail, email)
}

func (c *GRPCClient) CreateUserByEmail(ctx context.Context, email string) (*User, error) {
	return c.call(ctx, MethodCreateUserByEmail, email)
}

func (c *GRPCClient) call(ctx context.Context, method, email string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := c.schema.newResponse()
	if err := c.conn.Invoke(ctx, method, c.schema.newRequest(email), resp); err != nil {
		return nil, mapStatus(err)
	}

	u := c.schema.decodeUser(resp)
	if _, err := uuid.Parse(u.ID); err != nil {
		return nil, fmt.Errorf("%w: malformed user id %q", ErrUnavailable, u.ID)
	}
	return u, nil
}

func mapStatus(err error) error {
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.NotFound:
		return ErrNotFound
	case codes.AlreadyExists:
		return ErrAlreadyExists
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, st.Code(), st.Message())
	}
}
