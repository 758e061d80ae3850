package grid

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// ServerConfig holds the listener settings
type ServerConfig struct {
	MemberID uint64
	Address  string
	Port     int // 0 picks a free port
}

// Relay forwards a request to the member owning its partition
type Relay interface {
	Forward(ctx context.Context, req *Request) (*Response, error)
}

type relayBox struct{ Relay }

// Server exposes a Service to other members over gRPC and serves HTTP on the same port
type Server struct {
	memberID    uint64
	address     string
	port        int
	service     *Service
	server      *grpc.Server
	httpServer  *http.Server
	httpHandler http.Handler
	listener    net.Listener
	mux         cmux.CMux
	relay       atomic.Pointer[relayBox]
}

// NewServer creates a server for service
func NewServer(config ServerConfig, service *Service) *Server {
	return &Server{
		memberID: config.MemberID,
		address:  config.Address,
		port:     config.Port,
		service:  service,
	}
}

// SetHTTPHandler installs the handler for plain HTTP requests. Must be called before Start.
func (s *Server) SetHTTPHandler(h http.Handler) {
	s.httpHandler = h
}

// SetRelay installs the forwarder used for relayed requests. Without one they are refused.
func (s *Server) SetRelay(r Relay) {
	s.relay.Store(&relayBox{r})
}

// Call handles one member request
func (s *Server) Call(ctx context.Context, req *Request) (*Response, error) {
	clock := s.service.Clock()
	if !req.Timestamp.IsZero() {
		clock.Update(req.Timestamp)
	}

	var (
		resp *Response
		err  error
	)
	if req.Relay {
		resp, err = s.forward(ctx, req)
	} else {
		resp, err = dispatch(ctx, s.service, req)
	}
	if err != nil {
		log.Debug().
			Err(err).
			Str("op", req.Op.String()).
			Str("map", req.Map).
			Int("partition", req.Partition).
			Bool("relay", req.Relay).
			Msg("Member request failed")
		return nil, err
	}
	resp.Timestamp = clock.Now()
	return resp, nil
}

func (s *Server) forward(ctx context.Context, req *Request) (*Response, error) {
	box := s.relay.Load()
	if box == nil {
		return nil, status.Error(codes.Unavailable, "member does not relay")
	}
	return box.Forward(ctx, req)
}

// Start listens and serves gRPC and HTTP on one port
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.address, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.listener = listener
	s.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(100*1024*1024), // 100MB
		grpc.MaxSendMsgSize(100*1024*1024), // 100MB
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    60 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor()),
	)
	s.server.RegisterService(&gridServiceDesc, s)

	log.Info().
		Str("address", listener.Addr().String()).
		Uint64("member_id", s.memberID).
		Msg("Starting grid server")

	s.mux = cmux.New(listener)
	httpListener := s.mux.Match(cmux.HTTP1Fast())
	grpcListener := s.mux.Match(cmux.Any())

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/debug/pprof/", pprof.Index)
	httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	if s.httpHandler != nil {
		httpMux.Handle("/", s.httpHandler)
	}

	s.httpServer = &http.Server{
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(httpListener); err != nil && !isClosedErr(err) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	go func() {
		if err := s.server.Serve(grpcListener); err != nil && !isClosedErr(err) {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	go func() {
		if err := s.mux.Serve(); err != nil && !isClosedErr(err) {
			log.Error().Err(err).Msg("cmux failed")
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the HTTP and gRPC servers and the listener
func (s *Server) Stop() {
	if s.server == nil {
		return
	}

	log.Info().Uint64("member_id", s.memberID).Msg("Stopping grid server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}

	s.server.GracefulStop()
	s.listener.Close()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, http.ErrServerClosed) ||
		errors.Is(err, grpc.ErrServerStopped) ||
		errors.Is(err, cmux.ErrListenerClosed)
}
