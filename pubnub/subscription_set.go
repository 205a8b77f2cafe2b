package pubnub

import (
	"sort"
	"strings"
	"sync"
)

const presenceSuffix = "-pnpres"

// subscriptionSet is the set of subscribed channels and channel groups.
// Application goroutines mutate it; the loop reads a snapshot per poll.
type subscriptionSet struct {
	lock     sync.Mutex
	channels map[string]bool
	groups   map[string]bool
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{
		channels: make(map[string]bool),
		groups:   make(map[string]bool),
	}
}

// add records channels and groups; withPresence also polls their presence
// channels. It reports whether the set changed.
func (set *subscriptionSet) add(channels []string, groups []string, withPresence bool) bool {
	if set == nil {
		return false
	}
	set.lock.Lock()
	defer set.lock.Unlock()

	changed := false
	apply := func(target map[string]bool, names []string) {
		for _, name := range names {
			presence, exists := target[name]
			if !exists || (withPresence && !presence) {
				changed = true
			}
			target[name] = presence || withPresence
		}
	}
	apply(set.channels, channels)
	apply(set.groups, groups)
	return changed
}

// remove drops channels and groups, returning the names that were present.
func (set *subscriptionSet) remove(channels []string, groups []string) ([]string, []string) {
	if set == nil {
		return nil, nil
	}
	set.lock.Lock()
	defer set.lock.Unlock()

	drop := func(target map[string]bool, names []string) []string {
		removed := make([]string, 0, len(names))
		for _, name := range names {
			if _, exists := target[name]; exists {
				delete(target, name)
				removed = append(removed, name)
			}
		}
		return removed
	}
	return drop(set.channels, channels), drop(set.groups, groups)
}

// clear empties the set and returns what it held.
func (set *subscriptionSet) clear() ([]string, []string) {
	if set == nil {
		return nil, nil
	}
	set.lock.Lock()
	defer set.lock.Unlock()
	channels := sortedKeys(set.channels)
	groups := sortedKeys(set.groups)
	set.channels = make(map[string]bool)
	set.groups = make(map[string]bool)
	return channels, groups
}

func (set *subscriptionSet) isEmpty() bool {
	if set == nil {
		return true
	}
	set.lock.Lock()
	defer set.lock.Unlock()
	return len(set.channels) == 0 && len(set.groups) == 0
}

// names returns the subscribed channel and group names, sorted.
func (set *subscriptionSet) names() ([]string, []string) {
	if set == nil {
		return nil, nil
	}
	set.lock.Lock()
	defer set.lock.Unlock()
	return sortedKeys(set.channels), sortedKeys(set.groups)
}

// requestLists returns the names a poll must carry, including presence channels.
func (set *subscriptionSet) requestLists() ([]string, []string) {
	if set == nil {
		return nil, nil
	}
	set.lock.Lock()
	defer set.lock.Unlock()
	expand := func(source map[string]bool) []string {
		names := make([]string, 0, len(source)*2)
		for name, presence := range source {
			names = append(names, name)
			if presence {
				names = append(names, name+presenceSuffix)
			}
		}
		sort.Strings(names)
		return names
	}
	return expand(set.channels), expand(set.groups)
}

func sortedKeys(source map[string]bool) []string {
	keys := make([]string, 0, len(source))
	for key := range source {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func isPresenceChannel(name string) bool {
	return strings.HasSuffix(name, presenceSuffix)
}

func trimPresenceSuffix(name string) string {
	return strings.TrimSuffix(name, presenceSuffix)
}
