package grid

import (
	"context"
	"testing"

	"github.com/maxpert/gridtopic/cfg"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func withSecret(t *testing.T, secret string) {
	t.Helper()
	original := cfg.Config
	c := *cfg.Default()
	c.Cluster.ClusterSecret = secret
	cfg.Config = &c
	t.Cleanup(func() { cfg.Config = original })
}

func TestClusterSecretValidation(t *testing.T) {
	tests := []struct {
		name         string
		serverSecret string
		clientSecret string
		wantCode     codes.Code
	}{
		{name: "matching secrets succeed", serverSecret: "s3cret", clientSecret: "s3cret", wantCode: codes.OK},
		{name: "mismatched secrets fail", serverSecret: "server", clientSecret: "wrong", wantCode: codes.Unauthenticated},
		{name: "missing client secret fails", serverSecret: "server", clientSecret: "", wantCode: codes.Unauthenticated},
		{name: "no auth when server secret empty", serverSecret: "", clientSecret: "", wantCode: codes.OK},
		{name: "client secret ignored when server has none", serverSecret: "", clientSecret: "extra", wantCode: codes.OK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withSecret(t, tt.serverSecret)

			md := metadata.MD{}
			if tt.clientSecret != "" {
				md.Set(ClusterSecretHeader, tt.clientSecret)
			}
			ctx := metadata.NewIncomingContext(context.Background(), md)

			err := validateClusterSecret(ctx)
			assert.Equal(t, tt.wantCode, status.Code(err))
		})
	}
}

func TestClusterSecretMissingMetadata(t *testing.T) {
	withSecret(t, "s3cret")

	err := validateClusterSecret(context.Background())
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
