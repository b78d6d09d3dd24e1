package grpc

import (
	"context"
	"path"
	"runtime/debug"
	"time"

	"learnhub/messaging-service/internal/metrics"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func record(fullMethod string, start time.Time, err error) {
	method := path.Base(fullMethod)
	metrics.RPCRequestsTotal.WithLabelValues(method, status.Code(err).String()).Inc()
	metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func recovered(logger *logrus.Logger, fullMethod string, r any) error {
	logger.WithFields(logrus.Fields{
		"method": fullMethod,
		"panic":  r,
		"stack":  string(debug.Stack()),
	}).Error("Recovered from panic in gRPC handler")
	return status.Error(codes.Internal, "internal error")
}

// UnaryInterceptor records call metrics and turns handler panics into
// Internal errors.
func UnaryInterceptor(logger *logrus.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = recovered(logger, info.FullMethod, r)
			}
			record(info.FullMethod, start, err)
		}()
		return handler(ctx, req)
	}
}

func StreamInterceptor(logger *logrus.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = recovered(logger, info.FullMethod, r)
			}
			record(info.FullMethod, start, err)
		}()
		return handler(srv, ss)
	}
}
