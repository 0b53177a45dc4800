package service

import (
	"context"
	"errors"

	"GuardLane/internal/biz"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewGuardService, NewTenantService)

// respond runs fn through the server middleware chain (recovery, request
// logging) and writes its result as the JSON response body.
func respond(ctx khttp.Context, fn func(context.Context) (interface{}, error)) error {
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return fn(c)
	})
	out, err := h(ctx, nil)
	if err != nil {
		return kratosError(err)
	}
	return ctx.Result(200, out)
}

// kratosError maps guard taxonomy errors onto kratos errors so the HTTP
// surface answers with meaningful status and reason codes. Errors that are
// already kratos-typed pass through unchanged; anything else becomes a 500.
func kratosError(err error) error {
	if err == nil {
		return nil
	}

	var ke *kerrors.Error
	if errors.As(err, &ke) {
		return err
	}

	var (
		te  *biz.ThrottledError
		coe *biz.CircuitOpenError
		pee *biz.PoolExhaustedError
		sae *biz.SessionActiveError
	)
	switch {
	case errors.As(err, &te):
		return kerrors.New(429, "RATE_LIMITED", te.Error()).
			WithMetadata(map[string]string{"scope": te.Scope, "retry_after": te.RetryAfter.String()})
	case errors.As(err, &coe):
		return kerrors.New(503, "CIRCUIT_OPEN", coe.Error()).
			WithMetadata(map[string]string{"tenant": coe.Tenant, "retry_after": coe.RetryAfter.String()})
	case errors.As(err, &pee):
		return kerrors.New(503, "POOL_EXHAUSTED", pee.Error())
	case errors.As(err, &sae):
		return kerrors.New(409, "SESSION_ACTIVE", sae.Error())
	}

	return kerrors.New(500, "INTERNAL", err.Error())
}
