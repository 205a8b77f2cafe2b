package pubnub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thejuampi/pubnub-client-go/pubnub/internal/testutil"
)

const testWait = 2 * time.Second

type transportCall func(ctx context.Context, request Request) ([]byte, error)

func respond(body string) transportCall {
	return func(context.Context, Request) ([]byte, error) {
		return []byte(body), nil
	}
}

func fail(err error) transportCall {
	return func(context.Context, Request) ([]byte, error) {
		return nil, err
	}
}

func hang() transportCall {
	return func(ctx context.Context, _ Request) ([]byte, error) {
		<-ctx.Done()
		return nil, NewError(ConnectionError, "cancelled", ctx.Err())
	}
}

// scriptedTransport answers polls and transactions from per-kind scripts.
// An exhausted poll script hangs until the poll is cancelled; an exhausted
// transaction script answers with a generic success body.
type scriptedTransport struct {
	lock                sync.Mutex
	polls               []transportCall
	transactions        []transportCall
	pollRequests        []Request
	transactionRequests []Request
	cancelledPolls      int
	closed              bool
}

func newScriptedTransport(polls ...transportCall) *scriptedTransport {
	return &scriptedTransport{polls: polls}
}

func (transport *scriptedTransport) queuePolls(calls ...transportCall) {
	transport.lock.Lock()
	transport.polls = append(transport.polls, calls...)
	transport.lock.Unlock()
}

func (transport *scriptedTransport) queueTransactions(calls ...transportCall) {
	transport.lock.Lock()
	transport.transactions = append(transport.transactions, calls...)
	transport.lock.Unlock()
}

func (transport *scriptedTransport) Subscribe(ctx context.Context, request Request) ([]byte, error) {
	transport.lock.Lock()
	transport.pollRequests = append(transport.pollRequests, request)
	call := hang()
	if len(transport.polls) > 0 {
		call = transport.polls[0]
		transport.polls = transport.polls[1:]
	}
	transport.lock.Unlock()

	data, err := call(ctx, request)
	if ctx.Err() != nil {
		transport.lock.Lock()
		transport.cancelledPolls++
		transport.lock.Unlock()
	}
	return data, err
}

func (transport *scriptedTransport) Transaction(ctx context.Context, request Request) ([]byte, error) {
	transport.lock.Lock()
	transport.transactionRequests = append(transport.transactionRequests, request)
	call := respond(`{"status":200,"message":"OK","service":"Presence"}`)
	if len(transport.transactions) > 0 {
		call = transport.transactions[0]
		transport.transactions = transport.transactions[1:]
	}
	transport.lock.Unlock()
	return call(ctx, request)
}

func (transport *scriptedTransport) Close() error {
	transport.lock.Lock()
	transport.closed = true
	transport.lock.Unlock()
	return nil
}

func (transport *scriptedTransport) pollCount() int {
	transport.lock.Lock()
	defer transport.lock.Unlock()
	return len(transport.pollRequests)
}

func (transport *scriptedTransport) poll(index int) Request {
	transport.lock.Lock()
	defer transport.lock.Unlock()
	return transport.pollRequests[index]
}

func (transport *scriptedTransport) transactionCount() int {
	transport.lock.Lock()
	defer transport.lock.Unlock()
	return len(transport.transactionRequests)
}

func (transport *scriptedTransport) transaction(index int) Request {
	transport.lock.Lock()
	defer transport.lock.Unlock()
	return transport.transactionRequests[index]
}

func (transport *scriptedTransport) cancelled() int {
	transport.lock.Lock()
	defer transport.lock.Unlock()
	return transport.cancelledPolls
}

func (transport *scriptedTransport) isClosed() bool {
	transport.lock.Lock()
	defer transport.lock.Unlock()
	return transport.closed
}

func (transport *scriptedTransport) waitPolls(t *testing.T, count int) {
	t.Helper()
	testutil.WaitFor(t, testWait, fmt.Sprintf("%d polls", count), func() bool {
		return transport.pollCount() >= count
	})
}

type recordingListener struct {
	lock     sync.Mutex
	statuses []Status
	messages []MessageEvent
	presence []PresenceEvent
}

func (listener *recordingListener) Status(_ *Client, status Status) {
	listener.lock.Lock()
	listener.statuses = append(listener.statuses, status)
	listener.lock.Unlock()
}

func (listener *recordingListener) Message(_ *Client, message MessageEvent) {
	listener.lock.Lock()
	listener.messages = append(listener.messages, message)
	listener.lock.Unlock()
}

func (listener *recordingListener) Presence(_ *Client, presence PresenceEvent) {
	listener.lock.Lock()
	listener.presence = append(listener.presence, presence)
	listener.lock.Unlock()
}

func (listener *recordingListener) statusSnapshot() []Status {
	listener.lock.Lock()
	defer listener.lock.Unlock()
	return append([]Status(nil), listener.statuses...)
}

func (listener *recordingListener) messageSnapshot() []MessageEvent {
	listener.lock.Lock()
	defer listener.lock.Unlock()
	return append([]MessageEvent(nil), listener.messages...)
}

func (listener *recordingListener) presenceSnapshot() []PresenceEvent {
	listener.lock.Lock()
	defer listener.lock.Unlock()
	return append([]PresenceEvent(nil), listener.presence...)
}

func (listener *recordingListener) countStatuses(match func(Status) bool) int {
	count := 0
	for _, status := range listener.statusSnapshot() {
		if match(status) {
			count++
		}
	}
	return count
}

// waitStatus waits for the first status with category.
func (listener *recordingListener) waitStatus(t *testing.T, category StatusCategory) Status {
	t.Helper()
	var found Status
	testutil.WaitFor(t, testWait, "status "+category.String(), func() bool {
		for _, status := range listener.statusSnapshot() {
			if status.Category == category {
				found = status
				return true
			}
		}
		return false
	})
	return found
}

func (listener *recordingListener) waitStatusCount(t *testing.T, category StatusCategory, count int) []Status {
	t.Helper()
	var matched []Status
	testutil.WaitFor(t, testWait, fmt.Sprintf("%d %s statuses", count, category), func() bool {
		matched = matched[:0]
		for _, status := range listener.statusSnapshot() {
			if status.Category == category {
				matched = append(matched, status)
			}
		}
		return len(matched) >= count
	})
	return matched
}

func (listener *recordingListener) waitMessages(t *testing.T, count int) []MessageEvent {
	t.Helper()
	testutil.WaitFor(t, testWait, fmt.Sprintf("%d messages", count), func() bool {
		return len(listener.messageSnapshot()) >= count
	})
	return listener.messageSnapshot()
}

func testConfiguration() *Configuration {
	config := NewConfiguration()
	config.SubscribeKey = "sub-key"
	config.PublishKey = "pub-key"
	config.UUID = "test-user"
	config.Secure = false
	config.Origins = []string{"a.example", "b.example", "c.example"}
	config.ReconnectBaseDelay = time.Millisecond
	config.ReconnectMaxDelay = 5 * time.Millisecond
	config.PresenceTimeout = 0
	config.IncludeRequestIdentifier = false
	return config
}

func newTestClient(t *testing.T, config *Configuration, transport Transport, options ...Option) (*Client, *recordingListener) {
	t.Helper()
	if config == nil {
		config = testConfiguration()
	}
	options = append([]Option{WithTransport(transport)}, options...)
	client, err := New(config, options...)
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	t.Cleanup(func() { _ = client.Destroy() })
	listener := &recordingListener{}
	client.AddListener(listener)
	return client, listener
}

func envelope(cursor int64, messages ...string) string {
	return fmt.Sprintf(`{"t":{"t":"%d","r":1},"m":[%s]}`, cursor, strings.Join(messages, ","))
}

func wireMessage(channel string, timetoken int64, payload string) string {
	return fmt.Sprintf(`{"a":"1","f":0,"i":"publisher","c":%q,"b":%q,"d":%s,"p":{"t":"%d","r":1}}`, channel, channel, payload, timetoken)
}

func wirePresence(channel string, timetoken int64, action string, uuid string, occupancy int) string {
	return fmt.Sprintf(`{"c":%q,"b":%q,"d":{"action":%q,"uuid":%q,"timestamp":1700000000,"occupancy":%d},"p":{"t":"%d","r":1}}`,
		channel+presenceSuffix, channel+presenceSuffix, action, uuid, occupancy, timetoken)
}
