package grid

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/maxpert/gridtopic/encoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestDispatch_InvokeDecodesProcessor(t *testing.T) {
	withCounterProcessor(t)
	s := newTestService(t, "counters")

	payload, err := encoding.Marshal(&counterProcessor{By: 3})
	require.NoError(t, err)

	resp, err := dispatch(context.Background(), s, &Request{
		Op: OpInvoke, Map: "counters", Partition: 2, Key: []byte("k"), Kind: KindOffer, Processor: payload,
	})
	require.NoError(t, err)

	var n int64
	require.NoError(t, encoding.Unmarshal(resp.Value, &n))
	assert.Equal(t, int64(3), n)
}

func TestDispatch_UnknownOpAndKind(t *testing.T) {
	s := newTestService(t, "m")

	_, err := dispatch(context.Background(), s, &Request{Op: Op(0)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = dispatch(context.Background(), s, &Request{Op: OpInvoke, Map: "m", Kind: KindPoll})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("%w: x", ErrMapNotActive), codes.FailedPrecondition},
		{ErrServiceClosed, codes.Unavailable},
		{ErrUnknownKind, codes.Unimplemented},
		{&PartitionError{Partition: 9, Count: 3}, codes.OutOfRange},
		{errors.New("anything"), codes.Aborted},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, status.Code(toStatus(c.err)), c.err.Error())
	}

	assert.ErrorIs(t, fromStatus(2, toStatus(ErrMapNotActive)), ErrMapNotActive)
	assert.ErrorIs(t, fromStatus(2, toStatus(ErrUnknownKind)), ErrUnknownKind)

	var remote *RemoteError
	require.ErrorAs(t, fromStatus(2, toStatus(errors.New("bad"))), &remote)
	assert.Equal(t, "member 2: bad", remote.Error())

	unavailable := status.Error(codes.Unavailable, "down")
	assert.Equal(t, unavailable, fromStatus(2, unavailable))
}

func TestOpAndKindNames(t *testing.T) {
	assert.Equal(t, "invoke", OpInvoke.String())
	assert.Equal(t, "op(42)", Op(42).String())
	assert.Equal(t, "offer", KindOffer.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
