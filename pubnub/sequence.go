package pubnub

import "sync"

// MaxSequence is the largest publish sequence number before wrapping to 1.
const MaxSequence = 65535

// SequenceGenerator hands out publish sequence numbers in [1, max].
type SequenceGenerator struct {
	lock    sync.Mutex
	max     int
	current int
}

// NewSequenceGenerator returns a generator wrapping after maxSequence.
// Non-positive values use MaxSequence.
func NewSequenceGenerator(maxSequence int) *SequenceGenerator {
	if maxSequence <= 0 {
		maxSequence = MaxSequence
	}
	return &SequenceGenerator{max: maxSequence}
}

// Next returns the previous value plus one, wrapping to 1 after the maximum.
func (generator *SequenceGenerator) Next() int {
	if generator == nil {
		return 0
	}
	generator.lock.Lock()
	defer generator.lock.Unlock()
	if generator.current >= generator.max {
		generator.current = 1
	} else {
		generator.current++
	}
	return generator.current
}

// Reset restarts the sequence so the next call returns 1.
func (generator *SequenceGenerator) Reset() {
	if generator == nil {
		return
	}
	generator.lock.Lock()
	generator.current = 0
	generator.lock.Unlock()
}
