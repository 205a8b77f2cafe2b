package pubnub

import (
	"reflect"
	"sync"
)

// Listener receives everything the subscription loop produces. Callbacks run
// on the loop goroutine, one at a time, so a slow listener delays the next poll.
type Listener interface {
	Status(client *Client, status Status)
	Message(client *Client, message MessageEvent)
	Presence(client *Client, presence PresenceEvent)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
// Register it by pointer so it can be removed again.
type ListenerFuncs struct {
	StatusFunc   func(client *Client, status Status)
	MessageFunc  func(client *Client, message MessageEvent)
	PresenceFunc func(client *Client, presence PresenceEvent)
}

// NewListener returns a ListenerFuncs ready to pass to AddListener.
func NewListener() *ListenerFuncs {
	return &ListenerFuncs{}
}

func (funcs *ListenerFuncs) Status(client *Client, status Status) {
	if funcs != nil && funcs.StatusFunc != nil {
		funcs.StatusFunc(client, status)
	}
}

func (funcs *ListenerFuncs) Message(client *Client, message MessageEvent) {
	if funcs != nil && funcs.MessageFunc != nil {
		funcs.MessageFunc(client, message)
	}
}

func (funcs *ListenerFuncs) Presence(client *Client, presence PresenceEvent) {
	if funcs != nil && funcs.PresenceFunc != nil {
		funcs.PresenceFunc(client, presence)
	}
}

// listenerRegistry keeps listeners in registration order. Fan-out iterates a
// snapshot, so add and remove never race an ongoing dispatch.
type listenerRegistry struct {
	lock      sync.Mutex
	listeners []Listener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{}
}

func sameListener(left Listener, right Listener) bool {
	leftType := reflect.TypeOf(left)
	if leftType != reflect.TypeOf(right) || !leftType.Comparable() {
		return false
	}
	return left == right
}

func (registry *listenerRegistry) indexOf(listener Listener) int {
	for index, existing := range registry.listeners {
		if sameListener(existing, listener) {
			return index
		}
	}
	return -1
}

// add appends listener unless it is already registered.
func (registry *listenerRegistry) add(listener Listener) bool {
	if registry == nil || listener == nil {
		return false
	}
	registry.lock.Lock()
	defer registry.lock.Unlock()
	if registry.indexOf(listener) >= 0 {
		return false
	}
	registry.listeners = append(registry.listeners, listener)
	return true
}

func (registry *listenerRegistry) remove(listener Listener) bool {
	if registry == nil || listener == nil {
		return false
	}
	registry.lock.Lock()
	defer registry.lock.Unlock()
	index := registry.indexOf(listener)
	if index < 0 {
		return false
	}
	updated := make([]Listener, 0, len(registry.listeners)-1)
	updated = append(updated, registry.listeners[:index]...)
	updated = append(updated, registry.listeners[index+1:]...)
	registry.listeners = updated
	return true
}

func (registry *listenerRegistry) contains(listener Listener) bool {
	if registry == nil || listener == nil {
		return false
	}
	registry.lock.Lock()
	defer registry.lock.Unlock()
	return registry.indexOf(listener) >= 0
}

func (registry *listenerRegistry) snapshot() []Listener {
	if registry == nil {
		return nil
	}
	registry.lock.Lock()
	defer registry.lock.Unlock()
	return append([]Listener(nil), registry.listeners...)
}

func (registry *listenerRegistry) clear() {
	if registry == nil {
		return
	}
	registry.lock.Lock()
	registry.listeners = nil
	registry.lock.Unlock()
}

// announceStatus skips listeners removed after the snapshot was taken; a
// callback already running is left to finish.
func (registry *listenerRegistry) announceStatus(client *Client, status Status) {
	for _, listener := range registry.snapshot() {
		if registry.contains(listener) {
			listener.Status(client, status)
		}
	}
}

func (registry *listenerRegistry) announceMessage(client *Client, message MessageEvent) {
	for _, listener := range registry.snapshot() {
		if registry.contains(listener) {
			listener.Message(client, message)
		}
	}
}

func (registry *listenerRegistry) announcePresence(client *Client, presence PresenceEvent) {
	for _, listener := range registry.snapshot() {
		if registry.contains(listener) {
			listener.Presence(client, presence)
		}
	}
}
