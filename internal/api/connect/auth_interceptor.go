package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"
)

const (
	// ControlTokenHeader is the header name for the control token.
	ControlTokenHeader = "X-Control-Token"
)

// ControlAuthInterceptor rejects requests whose control token does not match.
// It covers unary calls and the watch stream. An empty token disables the check.
type ControlAuthInterceptor struct {
	token string
}

var _ connect.Interceptor = (*ControlAuthInterceptor)(nil)

// NewControlAuthInterceptor creates an interceptor that validates control tokens.
func NewControlAuthInterceptor(token string) *ControlAuthInterceptor {
	return &ControlAuthInterceptor{token: token}
}

func (i *ControlAuthInterceptor) authorize(token string) error {
	if i.token == "" {
		return nil
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(i.token)) != 1 {
		return connect.NewError(connect.CodeUnauthenticated, nil)
	}
	return nil
}

// WrapUnary validates the token of unary requests.
func (i *ControlAuthInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if err := i.authorize(req.Header().Get(ControlTokenHeader)); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

// WrapStreamingClient is a no-op on the server side.
func (i *ControlAuthInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler validates the token of streaming requests.
func (i *ControlAuthInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if err := i.authorize(conn.RequestHeader().Get(ControlTokenHeader)); err != nil {
			return err
		}
		return next(ctx, conn)
	}
}

// tokenClientInterceptor attaches the control token to outgoing requests.
type tokenClientInterceptor struct {
	token string
}

func (i *tokenClientInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		req.Header().Set(ControlTokenHeader, i.token)
		return next(ctx, req)
	}
}

func (i *tokenClientInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set(ControlTokenHeader, i.token)
		return conn
	}
}

func (i *tokenClientInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
