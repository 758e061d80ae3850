package grid

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAvailableMembers is returned once every member known at call start was tried
	ErrNoAvailableMembers = errors.New("no available members")
	// ErrMapNotActive is returned for operations against a map that was never ensured or was destroyed
	ErrMapNotActive = errors.New("map not active")
	// ErrMapClosed is returned by a map handle after Close
	ErrMapClosed = errors.New("map handle closed")
	// ErrUnknownKind is returned when no processor factory is registered for a kind
	ErrUnknownKind = errors.New("unknown processor kind")
	// ErrServiceClosed is returned by a closed service
	ErrServiceClosed = errors.New("grid service closed")
)

// PartitionError reports a partition index outside the service's range
type PartitionError struct {
	Partition int
	Count     int
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %d out of range [0,%d)", e.Partition, e.Count)
}

// RemoteError carries a failure raised by a processor on another member
type RemoteError struct {
	Member  uint64
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("member %d: %s", e.Member, e.Message)
}
