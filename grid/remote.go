package grid

import (
	"context"
	"errors"
	"fmt"

	"github.com/maxpert/gridtopic/encoding"
	"github.com/maxpert/gridtopic/hlc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcencoding "google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

const (
	codecName   = "msgpack"
	serviceName = "gridtopic.Grid"
	callMethod  = "/" + serviceName + "/Call"
)

// Op is a remote operation. Dispatch goes through a fixed table indexed by Op.
type Op uint8

const (
	OpInvoke Op = iota + 1
	OpGet
	OpPut
	OpRemove
	OpEnsure
	OpActive
	OpDestroy
	opCount
)

var opNames = [opCount]string{
	OpInvoke:  "invoke",
	OpGet:     "get",
	OpPut:     "put",
	OpRemove:  "remove",
	OpEnsure:  "ensure",
	OpActive:  "active",
	OpDestroy: "destroy",
}

func (o Op) String() string {
	if o > 0 && o < opCount {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Request is the single message members exchange
type Request struct {
	Op        Op            `msgpack:"o"`
	Map       string        `msgpack:"m"`
	Partition int           `msgpack:"p"`
	Key       []byte        `msgpack:"k,omitempty"`
	Value     []byte        `msgpack:"v,omitempty"`
	Kind      Kind          `msgpack:"t,omitempty"`
	Processor []byte        `msgpack:"x,omitempty"`
	Relay     bool          `msgpack:"r,omitempty"` // receiver forwards to the partition owner
	Timestamp hlc.Timestamp `msgpack:"ts"`
}

// Response answers a Request
type Response struct {
	Value     []byte        `msgpack:"v,omitempty"`
	Found     bool          `msgpack:"f,omitempty"`
	Timestamp hlc.Timestamp `msgpack:"ts"`
}

// msgpackCodec lets gRPC carry Request/Response without generated code
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error)      { return encoding.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return encoding.Unmarshal(data, v) }
func (msgpackCodec) Name() string                       { return codecName }

func init() {
	grpcencoding.RegisterCodec(msgpackCodec{})
}

// gridServer is implemented by Server
type gridServer interface {
	Call(ctx context.Context, req *Request) (*Response, error)
}

var gridServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*gridServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "grid",
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(gridServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: callMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(gridServer).Call(ctx, req.(*Request))
	}
	return interceptor(ctx, in, info, handler)
}

type opHandler func(ctx context.Context, s *Service, req *Request) (*Response, error)

var opHandlers = [opCount]opHandler{
	OpInvoke: func(ctx context.Context, s *Service, req *Request) (*Response, error) {
		p, err := newProcessor(req.Kind)
		if err != nil {
			return nil, err
		}
		if err := encoding.Unmarshal(req.Processor, p); err != nil {
			return nil, fmt.Errorf("failed to decode %s processor: %w", req.Kind, err)
		}
		value, err := s.Invoke(ctx, req.Map, req.Partition, req.Key, p)
		if err != nil {
			return nil, err
		}
		return &Response{Value: value, Found: true}, nil
	},
	OpGet: func(ctx context.Context, s *Service, req *Request) (*Response, error) {
		value, found, err := s.Get(ctx, req.Map, req.Partition, req.Key)
		if err != nil {
			return nil, err
		}
		return &Response{Value: value, Found: found}, nil
	},
	OpPut: func(ctx context.Context, s *Service, req *Request) (*Response, error) {
		return &Response{}, s.Put(ctx, req.Map, req.Partition, req.Key, req.Value)
	},
	OpRemove: func(ctx context.Context, s *Service, req *Request) (*Response, error) {
		return &Response{}, s.Remove(ctx, req.Map, req.Partition, req.Key)
	},
	OpEnsure: func(ctx context.Context, s *Service, req *Request) (*Response, error) {
		return &Response{}, s.EnsureMap(ctx, req.Map)
	},
	OpActive: func(ctx context.Context, s *Service, req *Request) (*Response, error) {
		active, err := s.IsActive(ctx, req.Map)
		return &Response{Found: active}, err
	},
	OpDestroy: func(ctx context.Context, s *Service, req *Request) (*Response, error) {
		return &Response{}, s.Destroy(ctx, req.Map)
	},
}

func dispatch(ctx context.Context, s *Service, req *Request) (*Response, error) {
	if req.Op == 0 || req.Op >= opCount {
		return nil, status.Errorf(codes.InvalidArgument, "unknown op %s", req.Op)
	}
	resp, err := opHandlers[req.Op](ctx, s, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

// toStatus maps service errors to status codes the client can map back
func toStatus(err error) error {
	var perr *PartitionError
	switch {
	case errors.Is(err, ErrMapNotActive):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrServiceClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrUnknownKind):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.As(err, &perr):
		return status.Error(codes.OutOfRange, err.Error())
	default:
		return status.Error(codes.Aborted, err.Error())
	}
}

// fromStatus converts a status error from member back into a grid error
func fromStatus(member uint64, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		return fmt.Errorf("%w (member %d)", ErrMapNotActive, member)
	case codes.Unimplemented:
		return fmt.Errorf("%w (member %d)", ErrUnknownKind, member)
	case codes.Aborted, codes.OutOfRange:
		return &RemoteError{Member: member, Message: st.Message()}
	default:
		return err
	}
}
