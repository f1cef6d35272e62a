package directory

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"
)

// HandlerFunc answers one users service call. create is true for
// CreateUserByEmail. Returning ErrNotFound, ErrAlreadyExists or
// ErrInvalidArgument produces the matching gRPC status.
type HandlerFunc func(ctx context.Context, create bool, email string) (*User, error)

// NewServiceDesc describes the users service with fn as its implementation,
// for in-process fakes registered with grpc.Server.RegisterService.
func NewServiceDesc(fn HandlerFunc) (*grpc.ServiceDesc, error) {
	s, err := buildSchema()
	if err != nil {
		return nil, err
	}
	method := func(create bool) grpc.MethodHandler {
		return func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			req := dynamicpb.NewMessage(s.request)
			if err := dec(req); err != nil {
				return nil, err
			}
			u, err := fn(ctx, create, s.requestEmail(req))
			if err != nil {
				return nil, toStatus(err)
			}
			return s.encodeUser(u), nil
		}
	}
	return &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetUserByEmail", Handler: method(false)},
			{MethodName: "CreateUserByEmail", Handler: method(true)},
		},
	}, nil
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
