package connect

import (
	"context"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/abplayer/internal/app/presenter"
)

// Client is a PlayerService client.
type Client struct {
	getState  *connect.Client[emptypb.Empty, structpb.Struct]
	playPause *connect.Client[emptypb.Empty, structpb.Struct]
	next      *connect.Client[emptypb.Empty, structpb.Struct]
	previous  *connect.Client[emptypb.Empty, structpb.Struct]
	watch     *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewClient creates a client for the player at baseURL.
// A non-empty token is sent in the control token header.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	if token != "" {
		opts = append(opts, connect.WithInterceptors(&tokenClientInterceptor{token: token}))
	}
	newClient := func(procedure string) *connect.Client[emptypb.Empty, structpb.Struct] {
		return connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+procedure, opts...)
	}
	return &Client{
		getState:  newClient(GetStateProcedure),
		playPause: newClient(PlayPauseProcedure),
		next:      newClient(NextProcedure),
		previous:  newClient(PreviousProcedure),
		watch:     newClient(WatchStateProcedure),
	}
}

// GetState returns the current view.
func (c *Client) GetState(ctx context.Context) (presenter.View, error) {
	return call(ctx, c.getState)
}

// PlayPause toggles play/pause.
func (c *Client) PlayPause(ctx context.Context) (presenter.View, error) {
	return call(ctx, c.playPause)
}

// Next skips to the next track.
func (c *Client) Next(ctx context.Context) (presenter.View, error) {
	return call(ctx, c.next)
}

// Previous steps back one track.
func (c *Client) Previous(ctx context.Context) (presenter.View, error) {
	return call(ctx, c.previous)
}

// Watch calls fn for the current view and every change until ctx ends, the server closes
// the stream or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn presenter.WatchFunc) error {
	stream, err := c.watch.CallServerStream(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		seq, event, v := DecodeNotification(stream.Msg())
		if err := fn(seq, event, v); err != nil {
			return err
		}
	}
	return stream.Err()
}

func call(ctx context.Context, client *connect.Client[emptypb.Empty, structpb.Struct]) (presenter.View, error) {
	resp, err := client.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return presenter.View{}, err
	}
	return DecodeView(resp.Msg), nil
}
