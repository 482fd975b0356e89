package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"marketlens/internal/seriescache"
)

// Client connects to a SeriesUpdates server.
type Client struct {
	addr string
	opts []grpc.DialOption
	log  *slog.Logger
}

// NewClient creates a client targeting the given gRPC address. Connections
// are insecure unless opts override the transport credentials.
func NewClient(addr string, log *slog.Logger, opts ...grpc.DialOption) *Client {
	all := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return &Client{addr: addr, opts: all, log: log}
}

// Watch streams series events for recordID, or for every record when
// recordID is negative, calling fn for each. It blocks until ctx is
// cancelled, the stream ends, or fn returns an error.
func (c *Client) Watch(ctx context.Context, recordID int, fn func(seriescache.Event) error) error {
	conn, err := grpc.NewClient(c.addr, c.opts...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cs, err := conn.NewStream(ctx, &serviceDesc.Streams[0], watchMethod)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}

	req, err := watchRequest(recordID)
	if err != nil {
		return err
	}
	if err := stream.Send(req); err != nil {
		return fmt.Errorf("sending watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing send: %w", err)
	}

	c.log.Info("connected to series stream", "addr", c.addr, "record", recordID)

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receiving event: %w", err)
		}
		evt, err := eventFromStruct(msg)
		if err != nil {
			c.log.Warn("dropping malformed event", "error", err)
			continue
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
