package grid

import (
	"fmt"
	"sync"
)

// Kind identifies an entry processor type on the wire. The set is closed: every member must know
// every kind, so new processors are added here rather than discovered at runtime.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindOffer
	KindEnsureTail
	KindTailAdvance
	KindPoll
	KindHeadAdvance
	KindEnsureSubscription
	KindRemoveSubscription
	KindEnsureTopic
	KindPositionRewind
	KindHeadRewind
	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown:            "unknown",
	KindOffer:              "offer",
	KindEnsureTail:         "ensure_tail",
	KindTailAdvance:        "tail_advance",
	KindPoll:               "poll",
	KindHeadAdvance:        "head_advance",
	KindEnsureSubscription: "ensure_subscription",
	KindRemoveSubscription: "remove_subscription",
	KindEnsureTopic:        "ensure_topic",
	KindPositionRewind:     "position_rewind",
	KindHeadRewind:         "head_rewind",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

var (
	factoriesMu sync.RWMutex
	factories   [kindCount]func() Processor
)

// RegisterProcessor installs the factory used to decode processors of kind k received from other
// members. Registering a kind twice panics.
func RegisterProcessor(k Kind, factory func() Processor) {
	if k == KindUnknown || k >= kindCount {
		panic(fmt.Sprintf("grid: cannot register processor for %s", k))
	}

	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if factories[k] != nil {
		panic(fmt.Sprintf("grid: processor %s registered twice", k))
	}
	factories[k] = factory
}

func newProcessor(k Kind) (Processor, error) {
	if k >= kindCount {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}

	factoriesMu.RLock()
	factory := factories[k]
	factoriesMu.RUnlock()

	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}
	return factory(), nil
}
