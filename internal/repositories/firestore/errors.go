package firestore

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/gridcommerce/checkout/internal/platform/firestore"
)

// notFoundError builds a categorised missing-document error for query paths
// where Firestore itself returns an empty result set instead of NotFound.
func notFoundError(op, msg string) error {
	return pfirestore.WrapError(op, status.Error(codes.NotFound, msg))
}

// conflictError builds a categorised conflict for guard violations detected
// inside transactions.
func conflictError(op, msg string) error {
	return pfirestore.WrapError(op, status.Error(codes.FailedPrecondition, msg))
}
