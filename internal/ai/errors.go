package ai

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrRateLimited is returned by a provider when the key hit its quota
	// (HTTP 429 or gRPC ResourceExhausted).
	ErrRateLimited = errors.New("rate limited")

	// ErrForbidden is returned by a provider when the key may not use the model
	// (HTTP 403 or gRPC PermissionDenied).
	ErrForbidden = errors.New("forbidden")

	// ErrProviderExhausted is returned when the primary provider and the
	// fallback both failed for the same request.
	ErrProviderExhausted = errors.New("all AI providers failed")

	// ErrFallbackFailed is returned by a fallback provider that could not answer.
	ErrFallbackFailed = errors.New("fallback provider failed")
)

// classify maps Google API errors onto ErrRateLimited and ErrForbidden. Other
// errors are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if sentinel := fromHTTP(gErr.Code); sentinel != nil {
			return fmt.Errorf("%w: %v", sentinel, err)
		}
	}

	if ae, ok := apierror.FromError(err); ok {
		if sentinel := fromHTTP(ae.HTTPCode()); sentinel != nil {
			return fmt.Errorf("%w: %v", sentinel, err)
		}
		if sentinel := fromGRPC(ae.GRPCStatus().Code()); sentinel != nil {
			return fmt.Errorf("%w: %v", sentinel, err)
		}
	}

	if s, ok := status.FromError(err); ok {
		if sentinel := fromGRPC(s.Code()); sentinel != nil {
			return fmt.Errorf("%w: %v", sentinel, err)
		}
	}

	return err
}

func fromHTTP(code int) error {
	switch code {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusForbidden:
		return ErrForbidden
	}
	return nil
}

func fromGRPC(code codes.Code) error {
	switch code {
	case codes.ResourceExhausted:
		return ErrRateLimited
	case codes.PermissionDenied:
		return ErrForbidden
	}
	return nil
}
