package fakeserver

import (
	"sync"
	"time"
)

// entry is a single published event stored in the journal.
type entry struct {
	timetoken int64
	channel   string
	publisher string
	payload   []byte
	meta      []byte
}

// journal is a bounded, append-only ring of events ordered by timetoken.
// Waiters block on changed until the next append.
type journal struct {
	lock    sync.Mutex
	entries []entry
	maxSize int
	head    int
	count   int
	last    int64
	changed chan struct{}
	now     func() time.Time
}

func newJournal(maxSize int) *journal {
	if maxSize <= 0 {
		maxSize = 100_000
	}
	return &journal{
		entries: make([]entry, maxSize),
		maxSize: maxSize,
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// nextTimetoken returns a fresh timetoken in 100ns units. Timetokens are
// strictly increasing even when the clock stalls. Callers hold the lock.
func (j *journal) nextTimetoken() int64 {
	next := j.now().UnixNano() / 100
	if next <= j.last {
		next = j.last + 1
	}
	j.last = next
	return next
}

// current returns the latest issued timetoken, issuing one when none exists.
func (j *journal) current() int64 {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.last == 0 {
		return j.nextTimetoken()
	}
	return j.last
}

// tick issues a timetoken without storing an event.
func (j *journal) tick() int64 {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.nextTimetoken()
}

func (j *journal) append(channel string, publisher string, payload []byte, meta []byte) int64 {
	j.lock.Lock()
	timetoken := j.nextTimetoken()
	if j.count == j.maxSize {
		j.entries[j.head] = entry{}
	} else {
		j.count++
	}
	j.entries[j.head] = entry{
		timetoken: timetoken,
		channel:   channel,
		publisher: publisher,
		payload:   append([]byte(nil), payload...),
		meta:      append([]byte(nil), meta...),
	}
	j.head = (j.head + 1) % j.maxSize
	close(j.changed)
	j.changed = make(chan struct{})
	j.lock.Unlock()
	return timetoken
}

// since returns entries after timetoken whose channel is in channels, the
// latest timetoken, and a channel closed by the next append.
func (j *journal) since(timetoken int64, channels map[string]string) ([]entry, int64, <-chan struct{}) {
	j.lock.Lock()
	defer j.lock.Unlock()
	var matched []entry
	start := (j.head - j.count + j.maxSize) % j.maxSize
	for index := 0; index < j.count; index++ {
		current := j.entries[(start+index)%j.maxSize]
		if current.timetoken <= timetoken {
			continue
		}
		if _, ok := channels[current.channel]; ok {
			matched = append(matched, current)
		}
	}
	return matched, j.last, j.changed
}

func (j *journal) size() int {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.count
}
