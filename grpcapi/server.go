package grpcapi

import (
	"context"
	"errors"
	"time"

	"fulfillment-svc/models"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type OrderReader interface {
	Get(ctx context.Context, id string) (models.Order, error)
}

type PaymentHistory interface {
	History(ctx context.Context, orderID string) ([]models.PaymentAttempt, error)
}

type Server struct {
	orders   OrderReader
	payments PaymentHistory
	logger   *zap.Logger
}

func NewServer(orders OrderReader, payments PaymentHistory, logger *zap.Logger) *Server {
	return &Server{
		orders:   orders,
		payments: payments,
		logger:   logger,
	}
}

// NewGRPCServer builds an instrumented grpc.Server with the fulfillment
// service registered on it.
func NewGRPCServer(srv FulfillmentServer) *grpc.Server {
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	RegisterFulfillmentServer(grpcServer, srv)
	return grpcServer
}

func (s *Server) GetOrderStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	ctx, span := otel.Tracer("fulfillment-service").Start(ctx, "GetOrderStatus_gRPC")
	defer span.End()

	orderID := req.GetValue()
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order id is required")
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, s.toStatus(err)
	}

	fields := map[string]any{
		"order_id":     order.ID,
		"order_number": order.Number,
		"status":       string(order.Status),
		"total":        order.Total.StringFixed(2),
		"currency":     order.Currency,
		"updated_at":   order.UpdatedAt.UTC().Format(time.RFC3339),
	}

	if s.payments != nil {
		attempts, err := s.payments.History(ctx, order.ID)
		if err != nil {
			span.RecordError(err)
			return nil, s.toStatus(err)
		}
		fields["payment_attempts"] = len(attempts)
		if len(attempts) > 0 {
			fields["last_payment_status"] = string(attempts[0].Status)
		}
	}

	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode order status: %v", err)
	}
	return resp, nil
}

func (s *Server) toStatus(err error) error {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, models.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, models.ErrDependencyUnavailable):
		s.logger.Warn("Order status lookup failed", zap.Error(err))
		return status.Error(codes.Unavailable, "service temporarily unavailable")
	default:
		s.logger.Error("Order status lookup failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}
