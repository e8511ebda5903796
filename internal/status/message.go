package status

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyName           = errors.New("status message has no pipe name")
	ErrSizeExceedsCapacity = errors.New("status message size exceeds max capacity")
)

// Message is the occupancy snapshot a pipe broadcasts after every mutation.
// It carries no envelope, sequence number or timestamp.
type Message struct {
	Name        string `json:"name"         yaml:"name"         toml:"name"`
	Size        uint64 `json:"size"         yaml:"size"         toml:"size"`
	MaxCapacity uint64 `json:"max_capacity" yaml:"max_capacity" toml:"max_capacity"`
}

// NewMessage builds a message from the pipe's current counters.
func NewMessage(name string, size, maxCapacity int) Message {
	return Message{
		Name:        name,
		Size:        uint64(max(size, 0)),
		MaxCapacity: uint64(max(maxCapacity, 0)),
	}
}

// Validate reports whether a decoded message is usable.
func (m Message) Validate() error {
	if m.Name == "" {
		return ErrEmptyName
	}

	if m.Size > m.MaxCapacity {
		return fmt.Errorf("%w: size %d, max_capacity %d", ErrSizeExceedsCapacity, m.Size, m.MaxCapacity)
	}

	return nil
}
