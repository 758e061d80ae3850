package grid

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/maxpert/gridtopic/encoding"
	"github.com/maxpert/gridtopic/notify"
	"github.com/maxpert/gridtopic/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Member is a grid node reachable at Address
type Member struct {
	ID      uint64
	Address string
}

// MemberSelector yields the members to try for one call, best first
type MemberSelector interface {
	Next() (uint64, bool)
}

type candidateSelector struct {
	candidates []uint64
	next       int
}

func (s *candidateSelector) Next() (uint64, bool) {
	if s.next >= len(s.candidates) {
		return 0, false
	}
	id := s.candidates[s.next]
	s.next++
	return id, true
}

// Router sends each call to the member owning the partition. When the owner is unreachable the call
// is relayed through other members, which forward it to the owner and never run it themselves.
// A call tries at most as many members as were known when it started.
type Router struct {
	self        Member
	local       *Service
	ring        *Ring
	client      *Client
	members     *xsync.MapOf[uint64, Member]
	timeout     time.Duration
	newSelector func(partition int) MemberSelector
}

// Ensure Router implements Invoker and Relay
var (
	_ Invoker = (*Router)(nil)
	_ Relay   = (*Router)(nil)
)

// NewRouter creates a router for the local member
func NewRouter(self Member, local *Service, client *Client, vnodes int, timeout time.Duration) *Router {
	r := &Router{
		self:    self,
		local:   local,
		ring:    NewRing(vnodes),
		client:  client,
		members: xsync.NewMapOf[uint64, Member](),
		timeout: timeout,
	}
	r.newSelector = func(partition int) MemberSelector {
		return &candidateSelector{candidates: r.ring.Candidates(partition)}
	}
	r.members.Store(self.ID, self)
	r.ring.Add(self.ID)
	telemetry.GridMembers.Set(1)
	return r
}

// Hub returns the notifier of the local member
func (r *Router) Hub() *notify.Hub {
	return r.local.Hub()
}

// Join adds a member to the ring and connects to it
func (r *Router) Join(m Member) error {
	if m.ID == r.self.ID {
		return nil
	}
	if err := r.client.Connect(m.ID, m.Address); err != nil {
		return err
	}
	r.members.Store(m.ID, m)
	r.ring.Add(m.ID)
	telemetry.GridMembers.Set(float64(r.ring.Count()))

	log.Info().
		Uint64("member_id", m.ID).
		Str("address", m.Address).
		Msg("Member joined partition ring")
	return nil
}

// Leave removes a member from the ring
func (r *Router) Leave(id uint64) {
	if id == r.self.ID {
		return
	}
	r.ring.Remove(id)
	r.members.Delete(id)
	if err := r.client.Disconnect(id); err != nil {
		log.Warn().Err(err).Uint64("member_id", id).Msg("Failed to close member connection")
	}
	telemetry.GridMembers.Set(float64(r.ring.Count()))
}

// Members lists known members ordered by ID
func (r *Router) Members() []Member {
	var out []Member
	r.members.Range(func(_ uint64, m Member) bool {
		out = append(out, m)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Owner returns the member currently owning partition
func (r *Router) Owner(partition int) (uint64, error) {
	return r.ring.Owner(partition)
}

func (r *Router) PartitionCount() int {
	return r.local.PartitionCount()
}

func (r *Router) route(ctx context.Context, partition int, req *Request, local func() (*Response, error)) (*Response, error) {
	owner, err := r.ring.Owner(partition)
	if err != nil {
		return nil, err
	}
	if owner == r.self.ID {
		return local()
	}

	bound := r.ring.Count()
	selector := r.newSelector(partition)

	for attempt := 0; attempt < bound; attempt++ {
		id, ok := selector.Next()
		if !ok {
			break
		}
		if id == r.self.ID {
			continue
		}

		call := req
		if id != owner {
			relayed := *req
			relayed.Relay = true
			call = &relayed
		}

		resp, err := r.remote(ctx, id, call)
		if err == nil {
			return resp, nil
		}
		if status.Code(err) != codes.Unavailable {
			return nil, fromStatus(owner, err)
		}

		telemetry.GridMemberRetriesTotal.Inc()
		log.Warn().
			Err(err).
			Uint64("member_id", id).
			Uint64("owner_id", owner).
			Int("partition", partition).
			Int("attempt", attempt+1).
			Int("bound", bound).
			Msg("Member unavailable, relaying through next")
	}
	return nil, ErrNoAvailableMembers
}

// Forward runs a relayed request on the partition owner. It runs locally only when this member
// owns the partition, and never relays again.
func (r *Router) Forward(ctx context.Context, req *Request) (*Response, error) {
	owner, err := r.ring.Owner(req.Partition)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}

	direct := *req
	direct.Relay = false
	if owner == r.self.ID {
		return dispatch(ctx, r.local, &direct)
	}
	return r.remote(ctx, owner, &direct)
}

func (r *Router) remote(ctx context.Context, id uint64, req *Request) (*Response, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	clock := r.local.Clock()
	req.Timestamp = clock.Now()

	start := time.Now()
	resp, err := r.client.Call(ctx, id, req)
	telemetry.GridInvocationSeconds.With("remote").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	clock.Update(resp.Timestamp)
	return resp, nil
}

func (r *Router) Invoke(ctx context.Context, mapName string, partition int, key []byte, p Processor) ([]byte, error) {
	payload, err := encoding.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s processor: %w", p.Kind(), err)
	}

	req := &Request{Op: OpInvoke, Map: mapName, Partition: partition, Key: key, Kind: p.Kind(), Processor: payload}
	resp, err := r.route(ctx, partition, req, func() (*Response, error) {
		value, err := r.local.Invoke(ctx, mapName, partition, key, p)
		return &Response{Value: value, Found: true}, err
	})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (r *Router) Get(ctx context.Context, mapName string, partition int, key []byte) ([]byte, bool, error) {
	req := &Request{Op: OpGet, Map: mapName, Partition: partition, Key: key}
	resp, err := r.route(ctx, partition, req, func() (*Response, error) {
		value, found, err := r.local.Get(ctx, mapName, partition, key)
		return &Response{Value: value, Found: found}, err
	})
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Found, nil
}

func (r *Router) Put(ctx context.Context, mapName string, partition int, key, value []byte) error {
	req := &Request{Op: OpPut, Map: mapName, Partition: partition, Key: key, Value: value}
	_, err := r.route(ctx, partition, req, func() (*Response, error) {
		return &Response{}, r.local.Put(ctx, mapName, partition, key, value)
	})
	return err
}

func (r *Router) Remove(ctx context.Context, mapName string, partition int, key []byte) error {
	req := &Request{Op: OpRemove, Map: mapName, Partition: partition, Key: key}
	_, err := r.route(ctx, partition, req, func() (*Response, error) {
		return &Response{}, r.local.Remove(ctx, mapName, partition, key)
	})
	return err
}

// broadcast sends req to every member. Map lifecycle has to reach all of them.
func (r *Router) broadcast(ctx context.Context, req *Request, local func() (*Response, error)) ([]*Response, error) {
	members := r.Members()
	responses := make([]*Response, len(members))
	errs := make([]error, len(members))

	var g errgroup.Group
	for i, m := range members {
		g.Go(func() error {
			if m.ID == r.self.ID {
				responses[i], errs[i] = local()
				return nil
			}
			copied := *req
			resp, err := r.remote(ctx, m.ID, &copied)
			if err != nil {
				errs[i] = fromStatus(m.ID, err)
				return nil
			}
			responses[i] = resp
			return nil
		})
	}
	_ = g.Wait()
	return responses, multierr.Combine(errs...)
}

func (r *Router) EnsureMap(ctx context.Context, name string) error {
	_, err := r.broadcast(ctx, &Request{Op: OpEnsure, Map: name}, func() (*Response, error) {
		return &Response{}, r.local.EnsureMap(ctx, name)
	})
	return err
}

func (r *Router) IsActive(ctx context.Context, name string) (bool, error) {
	responses, err := r.broadcast(ctx, &Request{Op: OpActive, Map: name}, func() (*Response, error) {
		active, err := r.local.IsActive(ctx, name)
		return &Response{Found: active}, err
	})
	if err != nil {
		return false, err
	}
	for _, resp := range responses {
		if !resp.Found {
			return false, nil
		}
	}
	return true, nil
}

func (r *Router) Destroy(ctx context.Context, name string) error {
	_, err := r.broadcast(ctx, &Request{Op: OpDestroy, Map: name}, func() (*Response, error) {
		return &Response{}, r.local.Destroy(ctx, name)
	})
	return err
}
