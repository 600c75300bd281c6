// Package connect provides the Connect RPC surface of the player.
//
// Messages are well-known protobuf types: requests are google.protobuf.Empty and views are
// google.protobuf.Struct, so no generated code is needed on either side.
package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/abplayer/internal/app/playback"
	"github.com/osa030/abplayer/internal/app/presenter"
)

const (
	// PlayerServiceName is the fully-qualified name of the player service.
	PlayerServiceName = "abplayer.v1.PlayerService"

	GetStateProcedure   = "/" + PlayerServiceName + "/GetState"
	PlayPauseProcedure  = "/" + PlayerServiceName + "/PlayPause"
	NextProcedure       = "/" + PlayerServiceName + "/Next"
	PreviousProcedure   = "/" + PlayerServiceName + "/Previous"
	WatchStateProcedure = "/" + PlayerServiceName + "/WatchState"
)

// Presenter is the presentation contract served over RPC.
type Presenter interface {
	View() presenter.View
	RequestPlayPause(ctx context.Context) error
	RequestNext(ctx context.Context) error
	RequestPrevious(ctx context.Context) error
	Watch(ctx context.Context, fn presenter.WatchFunc) error
}

var _ Presenter = (*presenter.Presenter)(nil)

// PlayerService implements the PlayerService RPC.
type PlayerService struct {
	presenter Presenter
}

// NewPlayerService creates a new PlayerService.
func NewPlayerService(p Presenter) *PlayerService {
	return &PlayerService{presenter: p}
}

// NewPlayerServiceHandler builds an HTTP handler serving every PlayerService procedure.
// It returns the path prefix to mount the handler on.
func NewPlayerServiceHandler(svc *PlayerService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(GetStateProcedure, connect.NewUnaryHandler(GetStateProcedure, svc.GetState, opts...))
	mux.Handle(PlayPauseProcedure, connect.NewUnaryHandler(PlayPauseProcedure, svc.PlayPause, opts...))
	mux.Handle(NextProcedure, connect.NewUnaryHandler(NextProcedure, svc.Next, opts...))
	mux.Handle(PreviousProcedure, connect.NewUnaryHandler(PreviousProcedure, svc.Previous, opts...))
	mux.Handle(WatchStateProcedure, connect.NewServerStreamHandler(WatchStateProcedure, svc.WatchState, opts...))
	return "/" + PlayerServiceName + "/", mux
}

// GetState returns the current view.
func (s *PlayerService) GetState(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.respond(s.presenter.View())
}

// PlayPause toggles play/pause and returns the resulting view.
func (s *PlayerService) PlayPause(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	if err := s.presenter.RequestPlayPause(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.respond(s.presenter.View())
}

// Next skips to the next track and returns the resulting view.
func (s *PlayerService) Next(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	if err := s.presenter.RequestNext(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.respond(s.presenter.View())
}

// Previous steps back one track and returns the resulting view.
func (s *PlayerService) Previous(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	if err := s.presenter.RequestPrevious(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.respond(s.presenter.View())
}

// WatchState streams the current view followed by every change.
func (s *PlayerService) WatchState(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	return s.presenter.Watch(ctx, func(seq uint64, event string, v presenter.View) error {
		msg, err := EncodeNotification(seq, event, v)
		if err != nil {
			return connect.NewError(connect.CodeInternal, err)
		}
		return stream.Send(msg)
	})
}

func (s *PlayerService) respond(v presenter.View) (*connect.Response[structpb.Struct], error) {
	msg, err := EncodeView(v)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// toConnectError maps controller errors to RPC codes.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, playback.ErrNoResource):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, playback.ErrClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		zlog.Error().Err(err).Msg("connect: command failed")
		return connect.NewError(connect.CodeInternal, err)
	}
}
