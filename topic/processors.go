package topic

import (
	"fmt"

	"github.com/maxpert/gridtopic/grid"
)

func init() {
	grid.RegisterProcessor(grid.KindOffer, func() grid.Processor { return &OfferProcessor{} })
	grid.RegisterProcessor(grid.KindEnsureTail, func() grid.Processor { return &EnsureTailProcessor{} })
	grid.RegisterProcessor(grid.KindTailAdvance, func() grid.Processor { return &TailAdvanceProcessor{} })
	grid.RegisterProcessor(grid.KindPoll, func() grid.Processor { return &PollProcessor{} })
	grid.RegisterProcessor(grid.KindHeadAdvance, func() grid.Processor { return &HeadAdvanceProcessor{} })
	grid.RegisterProcessor(grid.KindEnsureSubscription, func() grid.Processor { return &EnsureSubscriptionProcessor{} })
	grid.RegisterProcessor(grid.KindRemoveSubscription, func() grid.Processor { return &RemoveSubscriptionProcessor{} })
	grid.RegisterProcessor(grid.KindEnsureTopic, func() grid.Processor { return &EnsureTopicProcessor{} })
	grid.RegisterProcessor(grid.KindPositionRewind, func() grid.Processor { return &PositionRewindProcessor{} })
	grid.RegisterProcessor(grid.KindHeadRewind, func() grid.Processor { return &HeadRewindProcessor{} })
}

// OfferStatus is the outcome of an offer
type OfferStatus uint8

const (
	OfferSuccess OfferStatus = iota + 1
	OfferPageSealed
)

func (s OfferStatus) String() string {
	switch s {
	case OfferSuccess:
		return "success"
	case OfferPageSealed:
		return "page_sealed"
	default:
		return fmt.Sprintf("offer_status(%d)", uint8(s))
	}
}

// OfferResult reports how many leading values of an offer were consumed. Consumed values either
// landed on the page or failed individually (Errors, keyed by value index). Capacity is the number
// of values the publisher may send next: the free slots, or a whole page once this one is sealed.
type OfferResult struct {
	Status   OfferStatus    `msgpack:"s"`
	Accepted int            `msgpack:"a"`
	Capacity int            `msgpack:"c"`
	Tail     int            `msgpack:"t"`
	Sealed   bool           `msgpack:"sl"`
	Errors   map[int]string `msgpack:"e,omitempty"`
}

// Appended returns the number of values stored on the page
func (r *OfferResult) Appended() int {
	return r.Accepted - len(r.Errors)
}

// OfferProcessor appends values to a page, runs against a PageKey in the pages map
type OfferProcessor struct {
	Topic           string   `msgpack:"t"`
	Channel         int      `msgpack:"c"`
	Page            int64    `msgpack:"p"`
	Values          [][]byte `msgpack:"v"`
	PageCapacity    int      `msgpack:"pc"`
	MaxElementBytes int      `msgpack:"mb"`
}

func (*OfferProcessor) Kind() grid.Kind { return grid.KindOffer }

func (p *OfferProcessor) Process(e *grid.Entry) (any, error) {
	pc := e.Context()

	var page Page
	found, err := e.Decode(&page)
	if err != nil {
		return nil, err
	}

	if !found {
		usageEntry, err := pc.Entry(e.Map(), UsageKey{Partition: pc.Partition(), Channel: p.Channel}.Encode())
		if err != nil {
			return nil, err
		}
		usage, err := loadUsage(usageEntry)
		if err != nil {
			return nil, err
		}

		// the page existed once and is gone
		if p.Page <= usage.PartitionMax {
			return &OfferResult{Status: OfferPageSealed, Capacity: p.PageCapacity, Tail: -1}, nil
		}

		page = *newPage(p.Channel, p.Page, p.PageCapacity, pc.Now())
		usage.PartitionMax = p.Page
		usage.PartitionTail = p.Page
		if usage.PartitionHead < 0 {
			usage.PartitionHead = p.Page
		}
		if err := usageEntry.Set(&usage); err != nil {
			return nil, err
		}
	}

	if page.Sealed {
		return &OfferResult{Status: OfferPageSealed, Capacity: page.Capacity, Tail: page.Tail, Sealed: true}, nil
	}

	dataMap := dataMapName(p.Topic)
	now := pc.Now()
	result := &OfferResult{Status: OfferSuccess}

	for i, value := range p.Values {
		if page.Remaining() == 0 {
			break
		}
		result.Accepted++

		if p.MaxElementBytes > 0 && len(value) > p.MaxElementBytes {
			if result.Errors == nil {
				result.Errors = make(map[int]string)
			}
			result.Errors[i] = fmt.Sprintf("element of %d bytes exceeds the %d byte limit", len(value), p.MaxElementBytes)
			continue
		}

		pos := Position{Channel: p.Channel, Page: p.Page, Offset: page.Tail + 1}
		data, err := pc.Entry(dataMap, pos.Encode())
		if err != nil {
			return nil, err
		}
		if err := data.Set(&Element{Value: value, Timestamp: now}); err != nil {
			return nil, err
		}
		page.Tail = pos.Offset
		page.ByteSize += len(value)
	}

	if page.Remaining() == 0 {
		page.Sealed = true
	}
	if err := e.Set(&page); err != nil {
		return nil, err
	}

	result.Tail = page.Tail
	result.Sealed = page.Sealed
	if page.Sealed {
		result.Capacity = page.Capacity
	} else {
		result.Capacity = page.Remaining()
	}

	if result.Appended() > 0 {
		pc.Signal(signalName(p.Topic, p.Channel))
	}
	return result, nil
}

// EnsureTailProcessor initialises the publication tail of a channel and returns it. Runs against
// the channel's UsageKey in its sync partition.
type EnsureTailProcessor struct{}

func (*EnsureTailProcessor) Kind() grid.Kind { return grid.KindEnsureTail }

func (*EnsureTailProcessor) Process(e *grid.Entry) (any, error) {
	usage, err := loadUsage(e)
	if err != nil {
		return nil, err
	}
	if usage.PublicationTail < 0 {
		usage.PublicationTail = 0
		if err := e.Set(&usage); err != nil {
			return nil, err
		}
	}
	return usage.PublicationTail, nil
}

// TailAdvanceProcessor moves the publication tail past a sealed page. The tail never moves back,
// so concurrent publishers rotating off the same page agree on the result.
type TailAdvanceProcessor struct {
	Page int64 `msgpack:"p"`
}

func (*TailAdvanceProcessor) Kind() grid.Kind { return grid.KindTailAdvance }

func (p *TailAdvanceProcessor) Process(e *grid.Entry) (any, error) {
	usage, err := loadUsage(e)
	if err != nil {
		return nil, err
	}
	if next := p.Page + 1; usage.PublicationTail < next {
		usage.PublicationTail = next
		if err := e.Set(&usage); err != nil {
			return nil, err
		}
	}
	return usage.PublicationTail, nil
}

// PollResult carries elements read from one page. Exhausted means the group has read the whole
// sealed page and may move its head on.
type PollResult struct {
	Page        int64     `msgpack:"p"`
	FirstOffset int       `msgpack:"f"`
	Elements    []Element `msgpack:"e"`
	Exhausted   bool      `msgpack:"x"`
}

// PollProcessor reads up to Max elements of a page for a group and advances the group position
// in the same step. Runs against a PageKey in the pages map.
type PollProcessor struct {
	Topic   string `msgpack:"t"`
	Channel int    `msgpack:"c"`
	Page    int64  `msgpack:"p"`
	Group   string `msgpack:"g"`
	Max     int    `msgpack:"m"`
}

func (*PollProcessor) Kind() grid.Kind { return grid.KindPoll }

func (p *PollProcessor) Process(e *grid.Entry) (any, error) {
	pc := e.Context()
	result := &PollResult{Page: p.Page}

	posEntry, err := pc.Entry(subscriptionsMapName(p.Topic),
		SubscriptionKey{Partition: pc.Partition(), Channel: p.Channel, Group: p.Group}.Encode())
	if err != nil {
		return nil, err
	}

	var pos SubscriptionPosition
	found, err := posEntry.Decode(&pos)
	if err != nil {
		return nil, err
	}
	if found && pos.Page > p.Page {
		result.Exhausted = true
		return result, nil
	}
	if !found || pos.Page < p.Page {
		pos = SubscriptionPosition{Group: p.Group, Channel: p.Channel, Page: p.Page}
	}

	var page Page
	found, err = e.Decode(&page)
	if err != nil {
		return nil, err
	}
	if !found {
		return result, nil
	}

	result.FirstOffset = pos.Offset
	dataMap := dataMapName(p.Topic)
	for pos.Offset <= page.Tail && len(result.Elements) < p.Max {
		data, err := pc.Entry(dataMap, Position{Channel: p.Channel, Page: p.Page, Offset: pos.Offset}.Encode())
		if err != nil {
			return nil, err
		}
		var element Element
		if ok, err := data.Decode(&element); err != nil {
			return nil, err
		} else if ok {
			result.Elements = append(result.Elements, element)
		}
		pos.Offset++
	}

	if pos.Offset != result.FirstOffset {
		if err := posEntry.Set(&pos); err != nil {
			return nil, err
		}
	}
	result.Exhausted = page.Sealed && pos.Offset > page.Tail
	return result, nil
}

// HeadAdvanceProcessor moves a group head from Expected to Next. When another subscriber of the
// group already moved it, the current head is returned unchanged.
type HeadAdvanceProcessor struct {
	Expected int64 `msgpack:"e"`
	Next     int64 `msgpack:"n"`
}

func (*HeadAdvanceProcessor) Kind() grid.Kind { return grid.KindHeadAdvance }

func (p *HeadAdvanceProcessor) Process(e *grid.Entry) (any, error) {
	var head SubscriptionHead
	found, err := e.Decode(&head)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSubscriptionMissing
	}
	if head.Head == p.Expected {
		head.Head = p.Next
		if err := e.Set(&head); err != nil {
			return nil, err
		}
	}
	return head.Head, nil
}

// PositionRewindProcessor moves a group position back to Offset of Page so the elements from
// there on are read again. Runs against the SubscriptionKey of the partition holding the page.
// A position already at or before the target is left alone.
type PositionRewindProcessor struct {
	Group   string `msgpack:"g"`
	Channel int    `msgpack:"c"`
	Page    int64  `msgpack:"p"`
	Offset  int    `msgpack:"o"`
}

func (*PositionRewindProcessor) Kind() grid.Kind { return grid.KindPositionRewind }

func (p *PositionRewindProcessor) Process(e *grid.Entry) (any, error) {
	var pos SubscriptionPosition
	found, err := e.Decode(&pos)
	if err != nil {
		return nil, err
	}
	if found && (pos.Page < p.Page || (pos.Page == p.Page && pos.Offset <= p.Offset)) {
		return false, nil
	}

	pos = SubscriptionPosition{Group: p.Group, Channel: p.Channel, Page: p.Page, Offset: p.Offset}
	if err := e.Set(&pos); err != nil {
		return nil, err
	}
	return true, nil
}

// HeadRewindProcessor moves a group head back to Page if it is past it and returns the head
type HeadRewindProcessor struct {
	Page int64 `msgpack:"p"`
}

func (*HeadRewindProcessor) Kind() grid.Kind { return grid.KindHeadRewind }

func (p *HeadRewindProcessor) Process(e *grid.Entry) (any, error) {
	var head SubscriptionHead
	found, err := e.Decode(&head)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSubscriptionMissing
	}
	if head.Head > p.Page {
		head.Head = p.Page
		if err := e.Set(&head); err != nil {
			return nil, err
		}
	}
	return head.Head, nil
}

// EnsureSubscriptionProcessor creates the head of a group on a channel if it does not exist and
// returns it. A new head starts at the first page, or at the publication tail when FromTail is
// set. Runs against a HeadKey in the channel's sync partition, where the usage record lives too.
type EnsureSubscriptionProcessor struct {
	Topic    string `msgpack:"t"`
	Channel  int    `msgpack:"c"`
	Group    string `msgpack:"g"`
	FromTail bool   `msgpack:"ft"`
}

func (*EnsureSubscriptionProcessor) Kind() grid.Kind { return grid.KindEnsureSubscription }

func (p *EnsureSubscriptionProcessor) Process(e *grid.Entry) (any, error) {
	var head SubscriptionHead
	found, err := e.Decode(&head)
	if err != nil {
		return nil, err
	}
	if found {
		return head.Head, nil
	}

	head = SubscriptionHead{Group: p.Group, Channel: p.Channel}
	if p.FromTail {
		pc := e.Context()
		usageEntry, err := pc.Entry(pagesMapName(p.Topic), UsageKey{Partition: pc.Partition(), Channel: p.Channel}.Encode())
		if err != nil {
			return nil, err
		}
		usage, err := loadUsage(usageEntry)
		if err != nil {
			return nil, err
		}
		head.Head = max(usage.PublicationTail, 0)
	}

	if err := e.Set(&head); err != nil {
		return nil, err
	}
	return head.Head, nil
}

// RemoveSubscriptionProcessor deletes the heads and positions of a group held by one partition.
// Runs against a groupKey and returns the number of entries removed.
type RemoveSubscriptionProcessor struct {
	Group    string `msgpack:"g"`
	Channels []int  `msgpack:"c"`
}

func (*RemoveSubscriptionProcessor) Kind() grid.Kind { return grid.KindRemoveSubscription }

func (p *RemoveSubscriptionProcessor) Process(e *grid.Entry) (any, error) {
	pc := e.Context()
	removed := 0
	for _, ch := range p.Channels {
		keys := [][]byte{
			SubscriptionKey{Partition: pc.Partition(), Channel: ch, Group: p.Group}.Encode(),
			HeadKey{Partition: pc.Partition(), Channel: ch, Group: p.Group}.Encode(),
		}
		for _, k := range keys {
			entry, err := pc.Entry(e.Map(), k)
			if err != nil {
				return nil, err
			}
			if entry.Present() {
				entry.Remove()
				removed++
			}
		}
	}
	return removed, nil
}

// EnsureTopicProcessor stores the topic settings unless present and returns the stored ones
type EnsureTopicProcessor struct {
	Info TopicInfo `msgpack:"i"`
}

func (*EnsureTopicProcessor) Kind() grid.Kind { return grid.KindEnsureTopic }

func (p *EnsureTopicProcessor) Process(e *grid.Entry) (any, error) {
	var info TopicInfo
	found, err := e.Decode(&info)
	if err != nil {
		return nil, err
	}
	if found {
		return &info, nil
	}

	info = p.Info
	info.CreatedAt = e.Context().Now()
	if err := e.Set(&info); err != nil {
		return nil, err
	}
	return &info, nil
}
