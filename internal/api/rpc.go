// Package api exposes the daemon over gRPC. Services are described by hand
// and carry google.protobuf.Struct messages; the Go request and response
// types in types.go are mapped onto them through their JSON form.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Fully qualified service names.
const (
	SessionServiceName   = "chatsync.v1.SessionService"
	RoomServiceName      = "chatsync.v1.RoomService"
	DirectoryServiceName = "chatsync.v1.DirectoryService"
)

func fullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// unary adapts a typed handler on server S into a grpc.MethodDesc.
func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	invoke := func(srv any, ctx context.Context, in *structpb.Struct) (any, error) {
		var req Req
		if err := fromStruct(in, &req); err != nil {
			return nil, invalidArgument(err)
		}
		resp, err := call(srv.(S), ctx, &req)
		if err != nil {
			return nil, err
		}
		return toStruct(resp)
	}
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return invoke(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(service, method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return invoke(srv, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// serverStream adapts a handler that receives one request and pushes
// responses through send.
func serverStream[S, Req, Resp any](method string, call func(S, *Req, grpc.ServerStream, func(*Resp) error) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    method,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			var req Req
			if err := fromStruct(in, &req); err != nil {
				return invalidArgument(err)
			}
			send := func(resp *Resp) error {
				out, err := toStruct(resp)
				if err != nil {
					return err
				}
				return stream.SendMsg(out)
			}
			return call(srv.(S), &req, stream, send)
		},
	}
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
