package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/directory"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var codeByKind = map[string]codes.Code{
	"storage_unavailable":  codes.Unavailable,
	"unauthenticated":      codes.Unauthenticated,
	"room_not_initialized": codes.FailedPrecondition,
	"recipient_not_found":  codes.NotFound,
	"fetch_failed":         codes.Unavailable,
	"send_failed":          codes.Unavailable,
	"room_closed":          codes.FailedPrecondition,
	"invalid_message":      codes.InvalidArgument,
}

// toStatus maps an engine error onto a gRPC status carrying its message.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	code := codes.Internal
	var remote *directory.StatusError
	switch {
	case errors.As(err, &remote):
		code = remoteCode(remote.Code)
	case errors.Is(err, auth.ErrNoCredential), errors.Is(err, auth.ErrExpired):
		code = codes.Unauthenticated
	case errors.Is(err, store.ErrUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		if c, ok := codeByKind[chatsync.Kind(err)]; ok {
			code = c
		}
	}
	return grpcstatus.Error(code, err.Error())
}

func remoteCode(httpCode int) codes.Code {
	switch {
	case httpCode == http.StatusUnauthorized:
		return codes.Unauthenticated
	case httpCode == http.StatusNotFound:
		return codes.NotFound
	case httpCode >= 400 && httpCode < 500:
		return codes.FailedPrecondition
	default:
		return codes.Unavailable
	}
}

func invalidArgument(err error) error {
	return grpcstatus.Error(codes.InvalidArgument, err.Error())
}
