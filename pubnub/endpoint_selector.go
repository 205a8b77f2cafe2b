package pubnub

import (
	"strconv"
	"strings"
	"sync"
)

const (
	defaultOrigin         = "pubsub.pndsn.com"
	cacheBustingBase      = "pndsn.com"
	cacheBustingSubdomain = "ps"
	cacheBustingHosts     = 20
)

// EndpointSelector picks the service host the client talks to.
// Failover advances to the next candidate and returns it.
type EndpointSelector interface {
	Current() string
	Failover() string
	Candidates() []string
}

// DefaultEndpointSelector rotates through a fixed host list in order.
type DefaultEndpointSelector struct {
	lock      sync.Mutex
	hosts     []string
	index     int
	failovers uint64
}

// NewEndpointSelector creates a selector over hosts. Empty entries are skipped.
func NewEndpointSelector(hosts ...string) *DefaultEndpointSelector {
	selector := &DefaultEndpointSelector{hosts: make([]string, 0, len(hosts))}
	for _, host := range hosts {
		selector.Add(host)
	}
	return selector
}

// Current returns the active host, or "" when no host is configured.
func (selector *DefaultEndpointSelector) Current() string {
	if selector == nil {
		return ""
	}
	selector.lock.Lock()
	defer selector.lock.Unlock()
	if len(selector.hosts) == 0 {
		return ""
	}
	if selector.index < 0 || selector.index >= len(selector.hosts) {
		selector.index = 0
	}
	return selector.hosts[selector.index]
}

// Failover advances to the next host, wrapping after the last one.
func (selector *DefaultEndpointSelector) Failover() string {
	if selector == nil {
		return ""
	}
	selector.lock.Lock()
	defer selector.lock.Unlock()
	if len(selector.hosts) == 0 {
		return ""
	}
	selector.index = (selector.index + 1) % len(selector.hosts)
	selector.failovers++
	return selector.hosts[selector.index]
}

// Failovers returns how many times Failover was called.
func (selector *DefaultEndpointSelector) Failovers() uint64 {
	if selector == nil {
		return 0
	}
	selector.lock.Lock()
	defer selector.lock.Unlock()
	return selector.failovers
}

// Candidates returns a copy of the host list in rotation order.
func (selector *DefaultEndpointSelector) Candidates() []string {
	if selector == nil {
		return nil
	}
	selector.lock.Lock()
	defer selector.lock.Unlock()
	return append([]string(nil), selector.hosts...)
}

// Add appends host to the rotation and returns the selector for chaining.
func (selector *DefaultEndpointSelector) Add(host string) *DefaultEndpointSelector {
	if selector == nil {
		return selector
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return selector
	}
	selector.lock.Lock()
	selector.hosts = append(selector.hosts, host)
	selector.lock.Unlock()
	return selector
}

// Remove drops host from the rotation. The current index stays valid.
func (selector *DefaultEndpointSelector) Remove(host string) {
	if selector == nil || host == "" {
		return
	}
	selector.lock.Lock()
	defer selector.lock.Unlock()

	if len(selector.hosts) == 0 {
		return
	}

	filtered := make([]string, 0, len(selector.hosts))
	for _, candidate := range selector.hosts {
		if candidate != host {
			filtered = append(filtered, candidate)
		}
	}
	selector.hosts = filtered
	if selector.index >= len(selector.hosts) {
		selector.index = 0
	}
}

// candidateHosts applies the origin rules: explicit origin, then the origins
// list, then cache-busting subdomains, then the default origin.
func candidateHosts(config *Configuration) []string {
	if config == nil {
		return []string{defaultOrigin}
	}
	if origin := strings.TrimSpace(config.Origin); origin != "" {
		return []string{origin}
	}
	origins := make([]string, 0, len(config.Origins))
	for _, origin := range config.Origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) > 0 {
		return origins
	}
	if config.CacheBusting {
		hosts := make([]string, 0, cacheBustingHosts)
		for index := 1; index <= cacheBustingHosts; index++ {
			hosts = append(hosts, cacheBustingSubdomain+strconv.Itoa(index)+"."+cacheBustingBase)
		}
		return hosts
	}
	return []string{defaultOrigin}
}

func baseURL(host string, secure bool) string {
	if host == "" {
		return ""
	}
	if secure {
		return "https://" + host
	}
	return "http://" + host
}
