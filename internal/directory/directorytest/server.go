// Package directorytest runs an in-memory users service over bufconn.
package directorytest

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"authservice/internal/directory"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

// Server stores users by lower-cased email. New users are active and
// verified unless SetEligibility says otherwise.
type Server struct {
	mu    sync.Mutex
	users map[string]*directory.User

	// Delay is applied before every answer.
	Delay time.Duration
	// Fail, when set, is returned by every call.
	Fail error
}

func NewServer() *Server {
	return &Server{users: map[string]*directory.User{}}
}

// Put inserts or replaces a user and returns it.
func (s *Server) Put(email string, u *directory.User) *directory.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[strings.ToLower(email)] = u
	return u
}

func (s *Server) SetEligibility(email string, active, verified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[strings.ToLower(email)]; ok {
		u.IsActive, u.IsVerified = active, verified
	}
}

func (s *Server) handle(ctx context.Context, create bool, email string) (*directory.User, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Fail != nil {
		return nil, s.Fail
	}

	key := strings.ToLower(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[key]
	switch {
	case create && !strings.Contains(key, "@"):
		return nil, directory.ErrInvalidArgument
	case create && ok:
		return nil, directory.ErrAlreadyExists
	case create:
		u = &directory.User{ID: uuid.NewString(), IsActive: true, IsVerified: true}
		s.users[key] = u
	case !ok:
		return nil, directory.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// Start serves s on an in-memory listener and returns a connected client.
// Both are stopped when the test ends.
func (s *Server) Start(t testing.TB, timeout time.Duration) *directory.GRPCClient {
	t.Helper()
	desc, err := directory.NewServiceDesc(s.handle)
	if err != nil {
		t.Fatalf("users service descriptor: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(desc, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := directory.Dial("passthrough:///bufnet", timeout,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("dial users service: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
