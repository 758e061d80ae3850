package grid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/gridtopic/cfg"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Client holds one connection per remote member
type Client struct {
	conns      map[uint64]*grpc.ClientConn
	addrs      map[uint64]string
	compressor string
	mu         sync.RWMutex
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithCompression compresses requests at level 1-4. 0 sends them uncompressed.
func WithCompression(level int) ClientOption {
	return func(c *Client) {
		c.compressor = CompressorName(level)
	}
}

// NewClient creates an empty client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		conns: make(map[uint64]*grpc.ClientConn),
		addrs: make(map[uint64]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// dialOptions returns common gRPC dial options
func (c *Client) dialOptions() []grpc.DialOption {
	keepaliveTime := 10 * time.Second
	keepaliveTimeout := 3 * time.Second
	if cfg.Config != nil {
		keepaliveTime = time.Duration(cfg.Config.Cluster.KeepaliveTimeSeconds) * time.Second
		keepaliveTimeout = time.Duration(cfg.Config.Cluster.KeepaliveTimeoutSeconds) * time.Second
	}

	callOpts := []grpc.CallOption{
		grpc.CallContentSubtype(codecName),
		grpc.MaxCallRecvMsgSize(100 * 1024 * 1024), // 100MB
		grpc.MaxCallSendMsgSize(100 * 1024 * 1024),
	}
	if c.compressor != "" {
		callOpts = append(callOpts, grpc.UseCompressor(c.compressor))
	}

	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepaliveTime,
			Timeout:             keepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithChainUnaryInterceptor(UnaryClientInterceptor()),
	}
}

// Connect creates the connection to a member. Idempotent.
func (c *Client) Connect(memberID uint64, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.conns[memberID]; exists {
		return nil
	}

	conn, err := grpc.NewClient(address, c.dialOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create connection to member %d: %w", memberID, err)
	}

	c.conns[memberID] = conn
	c.addrs[memberID] = address

	log.Info().
		Uint64("member_id", memberID).
		Str("address", address).
		Msg("Member connection created")

	return nil
}

// Call sends req to a member
func (c *Client) Call(ctx context.Context, memberID uint64, req *Request) (*Response, error) {
	c.mu.RLock()
	conn, exists := c.conns[memberID]
	c.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("not connected to member %d", memberID)
	}

	resp := new(Response)
	if err := conn.Invoke(ctx, callMethod, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Disconnect closes the connection to a member
func (c *Client) Disconnect(memberID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, exists := c.conns[memberID]
	if !exists {
		return nil
	}

	delete(c.conns, memberID)
	delete(c.addrs, memberID)
	return conn.Close()
}

// Close closes every connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for memberID, conn := range c.conns {
		log.Debug().Uint64("member_id", memberID).Msg("Closing member connection")
		err = multierr.Append(err, conn.Close())
	}

	c.conns = make(map[uint64]*grpc.ClientConn)
	c.addrs = make(map[uint64]string)
	return err
}
