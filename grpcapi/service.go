// Package grpcapi exposes order status to sibling services over gRPC. The
// service uses protobuf well-known types for its messages, so no generated
// code is needed on either side.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName          = "fulfillment.v1.FulfillmentService"
	GetOrderStatusMethod = "/" + ServiceName + "/GetOrderStatus"
)

// FulfillmentServer is the server API for fulfillment.v1.FulfillmentService.
type FulfillmentServer interface {
	GetOrderStatus(ctx context.Context, orderID *wrapperspb.StringValue) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FulfillmentServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetOrderStatus",
			Handler:    getOrderStatusHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fulfillment/v1/fulfillment.proto",
}

func RegisterFulfillmentServer(s grpc.ServiceRegistrar, srv FulfillmentServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getOrderStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FulfillmentServer).GetOrderStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetOrderStatusMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FulfillmentServer).GetOrderStatus(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

type FulfillmentClient struct {
	cc grpc.ClientConnInterface
}

func NewFulfillmentClient(cc grpc.ClientConnInterface) *FulfillmentClient {
	return &FulfillmentClient{cc: cc}
}

func (c *FulfillmentClient) GetOrderStatus(ctx context.Context, orderID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetOrderStatusMethod, wrapperspb.String(orderID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
