// Package stream exposes resolved timeseries over a gRPC server stream so
// remote processes can mirror the cache, and provides the matching client.
//
// The service is described by hand instead of generated code; messages are
// google.protobuf.Struct values.
package stream

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"marketlens/internal/domain"
	"marketlens/internal/seriescache"
)

const (
	serviceName = "marketlens.SeriesUpdates"
	watchMethod = "/" + serviceName + "/Watch"
)

// SeriesUpdatesServer is the server API of the SeriesUpdates service.
type SeriesUpdatesServer interface {
	Watch(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SeriesUpdatesServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		Handler:       watchHandler,
		ServerStreams: true,
	}},
	Metadata: "marketlens/series_updates.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(SeriesUpdatesServer).Watch(req, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// Server implements SeriesUpdates on top of a series cache.
type Server struct {
	cache  *seriescache.Cache
	buffer int
	log    *slog.Logger
}

// Compile-time interface check.
var _ SeriesUpdatesServer = (*Server)(nil)

// NewServer creates a gRPC server backed by the given cache.
func NewServer(cache *seriescache.Cache, log *slog.Logger) *Server {
	return &Server{cache: cache, buffer: 1024, log: log}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Watch sends the cached series of the requested record first, when one is
// requested, then streams every newly resolved series until the client
// disconnects or the cache closes.
func (s *Server) Watch(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	recordID, err := requestedRecord(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	var (
		subID int
		ch    <-chan seriescache.Event
	)
	if recordID >= 0 {
		subID, ch = s.cache.SubscribeToItem(recordID, s.buffer)
	} else {
		subID, ch = s.cache.Subscribe(s.buffer)
	}
	defer s.cache.Unsubscribe(subID)

	// Snapshot of what is already cached for this record.
	if recordID >= 0 {
		for _, iv := range domain.Intervals {
			data, ok := s.cache.GetSync(recordID, iv)
			if !ok {
				continue
			}
			if err := s.send(stream, seriescache.Event{RecordID: recordID, Interval: iv, Data: data}); err != nil {
				return err
			}
		}
	}

	s.log.Info("grpc client subscribed", "subID", subID, "record", recordID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case evt, ok := <-ch:
			if !ok {
				return status.Error(codes.Unavailable, "cache closed")
			}
			if err := s.send(stream, evt); err != nil {
				return err
			}
		}
	}
}

func (s *Server) send(stream grpc.ServerStreamingServer[structpb.Struct], e seriescache.Event) error {
	msg, err := eventToStruct(e)
	if err != nil {
		s.log.Error("encoding series event", "record", e.RecordID, "interval", e.Interval, "error", err)
		return nil
	}
	return stream.Send(msg)
}
