package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a daemon's services over its Unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath. The connection is
// established lazily on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, service, method string, in, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(service, method), req, resp); err != nil {
		return err
	}
	return fromStruct(resp, out)
}

func call[Resp any](ctx context.Context, c *Client, service, method string, in any) (*Resp, error) {
	out := new(Resp)
	if err := c.invoke(ctx, service, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return call[StatusResponse](ctx, c, SessionServiceName, "Status", Empty{})
}

func (c *Client) Login(ctx context.Context, token string) (*LoginResponse, error) {
	return call[LoginResponse](ctx, c, SessionServiceName, "Login", LoginRequest{Token: token})
}

func (c *Client) Logout(ctx context.Context) error {
	return c.invoke(ctx, SessionServiceName, "Logout", Empty{}, &Empty{})
}

func (c *Client) Connect(ctx context.Context) (*ConnectResponse, error) {
	return call[ConnectResponse](ctx, c, SessionServiceName, "Connect", Empty{})
}

func (c *Client) OpenRoom(ctx context.Context, roomID string) (*RoomView, error) {
	return call[RoomView](ctx, c, RoomServiceName, "Open", RoomRequest{RoomID: roomID})
}

func (c *Client) OpenContact(ctx context.Context, phone string) (*RoomView, error) {
	return call[RoomView](ctx, c, RoomServiceName, "Open", RoomRequest{Phone: phone})
}

func (c *Client) CloseRoom(ctx context.Context, roomID string) error {
	return c.invoke(ctx, RoomServiceName, "Close", RoomRequest{RoomID: roomID}, &Empty{})
}

func (c *Client) View(ctx context.Context, roomID string) (*RoomView, error) {
	return call[RoomView](ctx, c, RoomServiceName, "View", RoomRequest{RoomID: roomID})
}

func (c *Client) LoadOlder(ctx context.Context, roomID string) (*OlderResponse, error) {
	return call[OlderResponse](ctx, c, RoomServiceName, "LoadOlder", RoomRequest{RoomID: roomID})
}

func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	return call[SendResponse](ctx, c, RoomServiceName, "Send", req)
}

func (c *Client) RetryOutbox(ctx context.Context) (*RetryResponse, error) {
	return call[RetryResponse](ctx, c, RoomServiceName, "RetryOutbox", Empty{})
}

func (c *Client) SyncContacts(ctx context.Context) (*SyncResponse, error) {
	return call[SyncResponse](ctx, c, DirectoryServiceName, "SyncContacts", Empty{})
}

func (c *Client) ListContacts(ctx context.Context) (*ContactsResponse, error) {
	return call[ContactsResponse](ctx, c, DirectoryServiceName, "ListContacts", Empty{})
}

func (c *Client) SearchCommunities(ctx context.Context, keyword string) (*CommunitiesResponse, error) {
	return call[CommunitiesResponse](ctx, c, DirectoryServiceName, "SearchCommunities", SearchRequest{Keyword: keyword})
}

// Watch streams events to fn until ctx ends, the daemon closes the stream,
// or fn returns an error.
func (c *Client) Watch(ctx context.Context, req WatchRequest, fn func(Event) error) error {
	stream, err := c.conn.NewStream(ctx, &RoomServiceDesc.Streams[0], fullMethod(RoomServiceName, "Watch"))
	if err != nil {
		return err
	}
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var evt Event
		if err := fromStruct(msg, &evt); err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
