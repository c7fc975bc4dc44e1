package grpcsvc

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const errorDomain = "storefront"

// toStatus переводит доменную ошибку в gRPC-статус. Код бизнес-ошибки уходит в ErrorInfo.Reason.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		return status.Error(codes.Internal, "internal error")
	}

	st := status.New(codeFor(err), err.Error())
	if detailed, detailErr := st.WithDetails(&errdetails.ErrorInfo{Reason: de.Code, Domain: errorDomain}); detailErr == nil {
		st = detailed
	}
	return st.Err()
}

func codeFor(err error) codes.Code {
	if domain.IsVersionConflict(err) {
		return codes.Aborted
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindConflict:
		return codes.FailedPrecondition
	case domain.KindVerificationFailed:
		return codes.PermissionDenied
	case domain.KindUpstreamUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// errorCode возвращает машинный код бизнес-ошибки, например COUPON_EXPIRED.
func errorCode(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "INTERNAL"
}

// ReasonOf достаёт код бизнес-ошибки из gRPC-статуса.
func ReasonOf(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok {
			return info.GetReason()
		}
	}
	return ""
}
