package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zde37/chordring/internal/chord"
	"github.com/zde37/chordring/pkg"
)

// ErrUnauthenticated is returned when a peer rejects our auth token.
var ErrUnauthenticated = errors.New("authentication failed")

// toStatus maps node errors onto gRPC status codes so the client can
// restore the sentinel on the other side.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var storeErr *chord.StoreError
	switch {
	case errors.Is(err, chord.ErrNodeNotRunning):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, chord.ErrKeyNotOwned):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, chord.ErrLookupHopLimitExceeded):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, chord.ErrEmptyKey):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, chord.ErrConfigMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, pkg.ErrKeyNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &storeErr):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}

// fromStatus turns an RPC failure against address back into the chord
// error it stands for.
func fromStatus(address string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %s: %v", chord.ErrNodeUnreachable, address, err)
	}

	msg := st.Message()
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s: %s", chord.ErrNodeUnreachable, address, msg)
	case codes.Canceled:
		return fmt.Errorf("rpc to %s: %w", address, context.Canceled)
	case codes.FailedPrecondition:
		if strings.Contains(msg, chord.ErrConfigMismatch.Error()) {
			return fmt.Errorf("%w: %s", chord.ErrConfigMismatch, msg)
		}
		return fmt.Errorf("%w: %s", chord.ErrKeyNotOwned, msg)
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", chord.ErrLookupHopLimitExceeded, msg)
	case codes.InvalidArgument:
		if strings.Contains(msg, chord.ErrEmptyKey.Error()) {
			return fmt.Errorf("%w: %s", chord.ErrEmptyKey, msg)
		}
		return fmt.Errorf("invalid request to %s: %s", address, msg)
	case codes.NotFound:
		return fmt.Errorf("%w: %s", pkg.ErrKeyNotFound, msg)
	case codes.Internal:
		return &chord.StoreError{Op: "remote", Err: errors.New(msg)}
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s: %s", ErrUnauthenticated, address, msg)
	default:
		return fmt.Errorf("rpc to %s failed: %s", address, msg)
	}
}
