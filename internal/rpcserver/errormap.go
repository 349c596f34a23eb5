package rpcserver

import (
	"context"
	"errors"

	"github.com/alessandrobrunoh/mnemosyne/internal/mnemerr"
)

// mapError converts an engine error into the wire code at a single point,
// keyed by the structured error's category.
func mapError(err error) *Error {
	if err == nil {
		return nil
	}

	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Code: ErrCodeInternalError, Message: "request cancelled or timed out"}
	}

	switch mnemerr.GetCategory(err) {
	case mnemerr.CategoryProtocol:
		return &Error{Code: ErrCodeInvalidParams, Message: err.Error()}
	case mnemerr.CategoryAuth:
		return &Error{Code: ErrCodeUnauthorized, Message: "unauthorized"}
	case mnemerr.CategoryIO, mnemerr.CategoryIntegrity, mnemerr.CategoryParse,
		mnemerr.CategoryResource, mnemerr.CategoryFatal:
		return &Error{Code: ErrCodeInternalError, Message: err.Error()}
	default:
		return &Error{Code: ErrCodeInternalError, Message: err.Error()}
	}
}
