package handler

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
)

func httpStatus(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation:
		return http.StatusBadRequest
	case errors.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case errors.ErrCodeRoleNotEligible, errors.ErrCodeVesselNotAuthorized, errors.ErrCodeInsufficientAuthority:
		return http.StatusForbidden
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInactive, errors.ErrCodeExpired:
		return http.StatusGone
	case errors.ErrCodeAlreadyApproved, errors.ErrCodeConflictingTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	code := errors.CodeOf(err)
	msg := err.Error()
	if code == errors.ErrCodeInternal {
		msg = "internal error"
	}

	switch code {
	case errors.ErrCodeValidation:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeUnauthenticated:
		return status.Error(codes.Unauthenticated, msg)
	case errors.ErrCodeRoleNotEligible, errors.ErrCodeVesselNotAuthorized, errors.ErrCodeInsufficientAuthority:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeInactive, errors.ErrCodeExpired, errors.ErrCodeConflictingTransition:
		return status.Error(codes.FailedPrecondition, msg)
	case errors.ErrCodeAlreadyApproved:
		return status.Error(codes.AlreadyExists, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
