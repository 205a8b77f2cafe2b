// Package fakeserver is a deterministic, stateful stand-in for the PubNub
// HTTP surface: time, publish, long-poll subscribe, presence leave and
// channel-group registration. It backs the integration tests and the
// tools/fakepubnub binary.
package fakeserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
)

const (
	presenceSuffix = "-pnpres"
	maxBodyBytes   = 32 << 10
)

// Options configures a Server.
type Options struct {
	// PollTimeout bounds how long a subscribe waits for events.
	PollTimeout time.Duration
	JournalMax  int
	// Latency is added before every response.
	Latency time.Duration
	// FailEvery answers every n-th subscribe with HTTP 503. Zero disables it.
	FailEvery int
	// AuthKeys, when set, rejects requests whose auth parameter is not listed.
	AuthKeys []string
	Logger   pslog.Base
}

// Stats counts handled requests by kind.
type Stats struct {
	Publishes     uint64
	Polls         uint64
	Leaves        uint64
	Failures      uint64
	Rejected      uint64
	Registrations uint64
}

// Server implements http.Handler.
type Server struct {
	options Options
	logger  pslog.Base
	journal *journal

	lock     sync.Mutex
	groups   map[string]map[string]bool
	occupied map[string]map[string]bool
	auth     map[string]bool

	failNext atomic.Int64
	closed   chan struct{}
	once     sync.Once

	publishes  atomic.Uint64
	polls      atomic.Uint64
	leaves     atomic.Uint64
	failures   atomic.Uint64
	rejected   atomic.Uint64
	registered atomic.Uint64
}

// New returns a Server with options applied.
func New(options Options) *Server {
	if options.PollTimeout <= 0 {
		options.PollTimeout = 5 * time.Second
	}
	logger := options.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	server := &Server{
		options:  options,
		logger:   logger,
		journal:  newJournal(options.JournalMax),
		groups:   make(map[string]map[string]bool),
		occupied: make(map[string]map[string]bool),
		closed:   make(chan struct{}),
	}
	if len(options.AuthKeys) > 0 {
		server.auth = make(map[string]bool, len(options.AuthKeys))
		for _, key := range options.AuthKeys {
			server.auth[key] = true
		}
	}
	return server
}

// Close releases every waiting subscribe.
func (server *Server) Close() {
	server.once.Do(func() { close(server.closed) })
}

// FailNext makes the next count subscribes fail with HTTP 503.
func (server *Server) FailNext(count int) {
	server.failNext.Store(int64(count))
}

// Stats returns request counters.
func (server *Server) Stats() Stats {
	return Stats{
		Publishes:     server.publishes.Load(),
		Polls:         server.polls.Load(),
		Leaves:        server.leaves.Load(),
		Failures:      server.failures.Load(),
		Rejected:      server.rejected.Load(),
		Registrations: server.registered.Load(),
	}
}

// Occupants returns the uuids present on channel, sorted.
func (server *Server) Occupants(channel string) []string {
	server.lock.Lock()
	defer server.lock.Unlock()
	return sortedNames(server.occupied[channel])
}

// JournalSize returns the number of retained events.
func (server *Server) JournalSize() int {
	return server.journal.size()
}

func (server *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if server.options.Latency > 0 {
		select {
		case <-time.After(server.options.Latency):
		case <-request.Context().Done():
			return
		}
	}
	segments := strings.Split(strings.TrimPrefix(request.URL.EscapedPath(), "/"), "/")
	query := request.URL.Query()

	if server.auth != nil && !server.auth[query.Get("auth")] {
		server.rejected.Add(1)
		server.logger.Warn("fakeserver.forbidden", "path", request.URL.Path, "auth", query.Get("auth"))
		writeJSON(writer, http.StatusForbidden, map[string]any{
			"status": 403, "message": "Forbidden", "error": true, "service": "Access Manager",
		})
		return
	}

	switch {
	case len(segments) == 2 && segments[0] == "time":
		writeJSON(writer, http.StatusOK, []int64{server.journal.tick()})
	case len(segments) >= 6 && segments[0] == "publish":
		server.handlePublish(writer, request, segments, query)
	case len(segments) == 5 && segments[0] == "v2" && segments[1] == "subscribe":
		server.handleSubscribe(writer, request, segments, query)
	case len(segments) == 7 && segments[0] == "v2" && segments[1] == "presence" && segments[6] == "leave":
		server.handleLeave(writer, segments, query)
	case len(segments) == 6 && segments[0] == "v1" && segments[1] == "channel-registration":
		server.handleRegistration(writer, segments, query)
	default:
		writeJSON(writer, http.StatusNotFound, map[string]any{"status": 404, "message": "Not Found", "error": true})
	}
}

// handlePublish serves /publish/{pub}/{sub}/0/{channel}/0[/{json}].
func (server *Server) handlePublish(writer http.ResponseWriter, request *http.Request, segments []string, query url.Values) {
	channel, err := url.PathUnescape(segments[4])
	if err != nil || channel == "" {
		writeJSON(writer, http.StatusBadRequest, []any{0, "Invalid Channel", "0"})
		return
	}
	var payload []byte
	switch {
	case request.Method == http.MethodPost:
		payload, err = readBody(request)
	case len(segments) >= 7:
		var decoded string
		decoded, err = url.PathUnescape(strings.Join(segments[6:], "/"))
		payload = []byte(decoded)
	}
	if err != nil || !json.Valid(payload) {
		writeJSON(writer, http.StatusBadRequest, []any{0, "Invalid JSON", "0"})
		return
	}
	var meta []byte
	if raw := query.Get("meta"); raw != "" {
		if !json.Valid([]byte(raw)) {
			writeJSON(writer, http.StatusBadRequest, []any{0, "Invalid Meta", "0"})
			return
		}
		meta = []byte(raw)
	}

	timetoken := server.journal.append(channel, query.Get("uuid"), payload, meta)
	server.publishes.Add(1)
	server.logger.Debug("fakeserver.publish", "channel", channel, "timetoken", timetoken, "seqn", query.Get("seqn"), "store", query.Get("store"))
	writeJSON(writer, http.StatusOK, []any{1, "Sent", strconv.FormatInt(timetoken, 10)})
}

// handleSubscribe serves /v2/subscribe/{sub}/{channels}/0.
func (server *Server) handleSubscribe(writer http.ResponseWriter, request *http.Request, segments []string, query url.Values) {
	count := server.polls.Add(1)
	if server.shouldFail(count) {
		server.failures.Add(1)
		server.logger.Info("fakeserver.subscribe.injected_failure", "poll", count)
		writeJSON(writer, http.StatusServiceUnavailable, map[string]any{"status": 503, "message": "Service Unavailable", "error": true})
		return
	}

	channels := splitNames(segments[3])
	groups := splitQueryNames(query.Get("channel-group"))
	if len(channels) == 0 && len(groups) == 0 {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"status": 400, "message": "Invalid Subscribe Channel", "error": true})
		return
	}
	cursor, err := strconv.ParseInt(query.Get("tt"), 10, 64)
	if err != nil {
		cursor = 0
	}
	uuid := query.Get("uuid")
	targets := server.resolve(channels, groups)

	if cursor == 0 {
		server.join(uuid, channels)
		writeSubscribe(writer, server.journal.current(), nil)
		return
	}

	deadline := time.NewTimer(server.options.PollTimeout)
	defer deadline.Stop()
	for {
		matched, latest, changed := server.journal.since(cursor, targets)
		if len(matched) > 0 {
			writeSubscribe(writer, latest, messagesFor(matched, targets))
			return
		}
		select {
		case <-changed:
		case <-deadline.C:
			writeSubscribe(writer, cursor, nil)
			return
		case <-request.Context().Done():
			return
		case <-server.closed:
			writeSubscribe(writer, cursor, nil)
			return
		}
	}
}

// handleLeave serves /v2/presence/sub-key/{sub}/channel/{channels}/leave.
func (server *Server) handleLeave(writer http.ResponseWriter, segments []string, query url.Values) {
	channels := splitNames(segments[5])
	for _, group := range splitQueryNames(query.Get("channel-group")) {
		server.lock.Lock()
		channels = append(channels, sortedNames(server.groups[group])...)
		server.lock.Unlock()
	}
	uuid := query.Get("uuid")
	for _, channel := range channels {
		server.lock.Lock()
		present := server.occupied[channel][uuid]
		delete(server.occupied[channel], uuid)
		occupancy := len(server.occupied[channel])
		server.lock.Unlock()
		if present {
			server.announcePresence(channel, "leave", uuid, occupancy)
		}
	}
	server.leaves.Add(1)
	server.logger.Debug("fakeserver.leave", "uuid", uuid, "channels", len(channels))
	writeJSON(writer, http.StatusOK, map[string]any{"status": 200, "message": "OK", "action": "leave", "service": "Presence"})
}

// handleRegistration serves /v1/channel-registration/sub-key/{sub}/channel-group/{group}.
func (server *Server) handleRegistration(writer http.ResponseWriter, segments []string, query url.Values) {
	group, err := url.PathUnescape(segments[5])
	if err != nil || group == "" {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"status": 400, "message": "Invalid Group", "error": true})
		return
	}
	server.registered.Add(1)
	server.lock.Lock()
	members := server.groups[group]
	if members == nil {
		members = make(map[string]bool)
		server.groups[group] = members
	}
	for _, channel := range splitQueryNames(query.Get("add")) {
		members[channel] = true
	}
	for _, channel := range splitQueryNames(query.Get("remove")) {
		delete(members, channel)
	}
	channels := sortedNames(members)
	server.lock.Unlock()

	server.logger.Debug("fakeserver.group", "group", group, "channels", len(channels))
	writeJSON(writer, http.StatusOK, map[string]any{
		"status":  200,
		"service": "channel-registry",
		"error":   false,
		"payload": map[string]any{"group": group, "channels": channels},
	})
}

func (server *Server) shouldFail(poll uint64) bool {
	for {
		pending := server.failNext.Load()
		if pending <= 0 {
			break
		}
		if server.failNext.CompareAndSwap(pending, pending-1) {
			return true
		}
	}
	every := server.options.FailEvery
	return every > 0 && poll%uint64(every) == 0
}

// resolve maps every channel the poll covers to the subscription it
// matched, expanding groups and their presence variants.
func (server *Server) resolve(channels []string, groups []string) map[string]string {
	targets := make(map[string]string, len(channels))
	for _, channel := range channels {
		targets[channel] = channel
	}
	server.lock.Lock()
	defer server.lock.Unlock()
	for _, group := range groups {
		presence := strings.HasSuffix(group, presenceSuffix)
		for channel := range server.groups[strings.TrimSuffix(group, presenceSuffix)] {
			if presence {
				channel += presenceSuffix
			}
			if _, ok := targets[channel]; !ok {
				targets[channel] = group
			}
		}
	}
	return targets
}

func (server *Server) join(uuid string, channels []string) {
	if uuid == "" {
		return
	}
	for _, channel := range channels {
		if strings.HasSuffix(channel, presenceSuffix) {
			continue
		}
		server.lock.Lock()
		members := server.occupied[channel]
		if members == nil {
			members = make(map[string]bool)
			server.occupied[channel] = members
		}
		joined := !members[uuid]
		members[uuid] = true
		occupancy := len(members)
		server.lock.Unlock()
		if joined {
			server.announcePresence(channel, "join", uuid, occupancy)
		}
	}
}

func (server *Server) announcePresence(channel string, action string, uuid string, occupancy int) {
	payload, _ := json.Marshal(map[string]any{
		"action":    action,
		"uuid":      uuid,
		"timestamp": time.Now().Unix(),
		"occupancy": occupancy,
	})
	server.journal.append(channel+presenceSuffix, "", payload, nil)
}

type wireCursor struct {
	Timetoken string `json:"t"`
	Region    int    `json:"r"`
}

type wireMessage struct {
	Channel      string          `json:"c"`
	Subscription string          `json:"b,omitempty"`
	Payload      json.RawMessage `json:"d"`
	Publisher    string          `json:"i,omitempty"`
	Meta         json.RawMessage `json:"u,omitempty"`
	Publish      wireCursor      `json:"p"`
}

type wireEnvelope struct {
	Cursor   wireCursor    `json:"t"`
	Messages []wireMessage `json:"m"`
}

func messagesFor(entries []entry, targets map[string]string) []wireMessage {
	messages := make([]wireMessage, 0, len(entries))
	for _, current := range entries {
		message := wireMessage{
			Channel:      current.channel,
			Subscription: targets[current.channel],
			Payload:      current.payload,
			Publisher:    current.publisher,
			Publish:      wireCursor{Timetoken: strconv.FormatInt(current.timetoken, 10), Region: 1},
		}
		if len(current.meta) > 0 {
			message.Meta = current.meta
		}
		messages = append(messages, message)
	}
	return messages
}

func writeSubscribe(writer http.ResponseWriter, cursor int64, messages []wireMessage) {
	if messages == nil {
		messages = []wireMessage{}
	}
	writeJSON(writer, http.StatusOK, wireEnvelope{
		Cursor:   wireCursor{Timetoken: strconv.FormatInt(cursor, 10), Region: 1},
		Messages: messages,
	})
}

func writeJSON(writer http.ResponseWriter, status int, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		http.Error(writer, fmt.Sprintf("encode response: %v", err), http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_, _ = writer.Write(data)
}

func readBody(request *http.Request) ([]byte, error) {
	defer request.Body.Close()
	return io.ReadAll(io.LimitReader(request.Body, maxBodyBytes))
}

// splitNames splits an escaped, comma-joined path or query list. The single
// "," placeholder yields no names.
func splitNames(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		name, err := url.PathUnescape(part)
		if err != nil || name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

func splitQueryNames(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

func sortedNames(source map[string]bool) []string {
	names := make([]string, 0, len(source))
	for name := range source {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
