package grid

import (
	"context"

	"github.com/maxpert/gridtopic/cfg"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ClusterSecretHeader is the metadata key carrying the shared member secret
const ClusterSecretHeader = "x-gridtopic-cluster-secret"

// UnaryServerInterceptor rejects calls that do not present the cluster secret
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := validateClusterSecret(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func validateClusterSecret(ctx context.Context) error {
	if !cfg.IsClusterAuthEnabled() {
		return nil
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}

	secrets := md.Get(ClusterSecretHeader)
	if len(secrets) == 0 {
		return status.Error(codes.Unauthenticated, "missing cluster secret")
	}

	if !cfg.ClusterSecretMatches(secrets[0]) {
		return status.Error(codes.Unauthenticated, "invalid cluster secret")
	}

	return nil
}

// UnaryClientInterceptor attaches the configured cluster secret
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if cfg.IsClusterAuthEnabled() {
			ctx = metadata.AppendToOutgoingContext(ctx, ClusterSecretHeader, cfg.GetClusterSecret())
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
