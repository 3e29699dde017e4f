package voterstore

import "github.com/luxfi/federation/internal/federrors"

// Value is a tagged variant a StoreEntry holds: a small closed set per
// spec §3 ("sequence counter, owned string, etc."), each able to accept or
// reject an incoming write attempt against the current value.
type Value interface {
	// Update checks incoming against the receiver, returning a fault code
	// if the write is semantically rejected (e.g. a decreasing counter).
	// Values are immutable; the receiver is left unchanged.
	Update(incoming Value) error
	Clone() Value
}

// SequenceCounter is a monotonic counter value (used for e.g.
// GlobalTimestampEpoch).
type SequenceCounter struct {
	N uint64
}

func (s SequenceCounter) Clone() Value { return SequenceCounter{N: s.N} }

func (s SequenceCounter) Update(incoming Value) error {
	other, ok := incoming.(SequenceCounter)
	if !ok {
		return federrors.New(federrors.InvalidArgument)
	}
	if other.N < s.N {
		return federrors.New(federrors.StaleRequest)
	}
	return nil
}

// StringValue is an owned string value (e.g. an elected leader's address).
type StringValue struct {
	S string
}

func (v StringValue) Clone() Value { return StringValue{S: v.S} }

func (v StringValue) Update(incoming Value) error {
	if _, ok := incoming.(StringValue); !ok {
		return federrors.New(federrors.InvalidArgument)
	}
	return nil
}
