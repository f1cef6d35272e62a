package directory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"authservice/internal/directory"
	"authservice/internal/directory/directorytest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGRPCClient_CreateThenGet(t *testing.T) {
	client := directorytest.NewServer().Start(t, time.Second)
	ctx := context.Background()

	created, err := client.CreateUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, created.Eligible())

	got, err := client.GetUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestGRPCClient_MapsStatusCodes(t *testing.T) {
	client := directorytest.NewServer().Start(t, time.Second)
	ctx := context.Background()

	_, err := client.GetUserByEmail(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, directory.ErrNotFound)

	_, err = client.CreateUserByEmail(ctx, "")
	assert.ErrorIs(t, err, directory.ErrInvalidArgument)

	_, err = client.CreateUserByEmail(ctx, "dup@x.com")
	require.NoError(t, err)
	_, err = client.CreateUserByEmail(ctx, "dup@x.com")
	assert.ErrorIs(t, err, directory.ErrAlreadyExists)
}

func TestGRPCClient_ServerErrorsAreUnavailable(t *testing.T) {
	for _, fail := range []error{
		errors.New("boom"),
		status.Error(codes.Unavailable, "draining"),
		status.Error(codes.PermissionDenied, "nope"),
	} {
		srv := directorytest.NewServer()
		srv.Fail = fail
		client := srv.Start(t, time.Second)

		_, err := client.GetUserByEmail(context.Background(), "a@x.com")
		assert.ErrorIs(t, err, directory.ErrUnavailable, fail.Error())
	}
}

func TestGRPCClient_AppliesDeadline(t *testing.T) {
	srv := directorytest.NewServer()
	srv.Delay = time.Second
	client := srv.Start(t, 50*time.Millisecond)

	start := time.Now()
	_, err := client.GetUserByEmail(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, directory.ErrUnavailable)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestGRPCClient_RejectsMalformedID(t *testing.T) {
	srv := directorytest.NewServer()
	srv.Put("bad@x.com", &directory.User{ID: "42", IsActive: true})
	client := srv.Start(t, time.Second)

	_, err := client.GetUserByEmail(context.Background(), "bad@x.com")
	assert.ErrorIs(t, err, directory.ErrUnavailable)
}

func TestGRPCClient_UnreachableServer(t *testing.T) {
	client, err := directory.Dial("127.0.0.1:1", 200*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.GetUserByEmail(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, directory.ErrUnavailable)
}
