package pubnub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/Thejuampi/pubnub-client-go/internal/fakeserver"
	"github.com/Thejuampi/pubnub-client-go/pubnub/internal/testutil"
)

func startFakeServer(t *testing.T, options fakeserver.Options) (*fakeserver.Server, string) {
	t.Helper()
	if options.PollTimeout == 0 {
		options.PollTimeout = time.Second
	}
	fake := fakeserver.New(options)
	server := httptest.NewServer(fake)
	t.Cleanup(func() {
		fake.Close()
		server.Close()
	})
	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return fake, parsed.Host
}

func integrationConfiguration(uuid string, hosts ...string) *Configuration {
	config := testConfiguration()
	config.UUID = uuid
	config.Origins = hosts
	config.IncludeRequestIdentifier = true
	config.IncludeInstanceIdentifier = true
	return config
}

func newIntegrationClient(t *testing.T, config *Configuration) (*Client, *recordingListener) {
	t.Helper()
	client, err := New(config)
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	t.Cleanup(func() { _ = client.Destroy() })
	listener := &recordingListener{}
	client.AddListener(listener)
	return client, listener
}

func TestIntegrationPublishAndReceive(t *testing.T) {
	fake, host := startFakeServer(t, fakeserver.Options{})
	client, listener := newIntegrationClient(t, integrationConfiguration("alice", host))

	if err := client.Subscribe(SubscribeOptions{Channels: []string{"room 1"}}); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	connected := listener.waitStatus(t, CategoryConnected)
	if connected.Host != host || client.Timetoken() == 0 {
		t.Fatalf("expected handshake against %s with a cursor, got %+v", host, connected)
	}

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	result, err := client.Publish(ctx, "room 1", map[string]any{"text": "hello"}, PublishOptions{Meta: map[string]string{"lang": "en"}})
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	message := listener.waitMessages(t, 1)[0]
	payload, ok := message.Payload.(map[string]any)
	if !ok || payload["text"] != "hello" || message.Channel != "room 1" || message.Publisher != "alice" {
		t.Fatalf("unexpected message %+v", message)
	}
	if message.Timetoken != result.Timetoken {
		t.Fatalf("expected delivered timetoken %d, got %d", result.Timetoken, message.Timetoken)
	}
	if meta, ok := message.UserMetadata.(map[string]any); !ok || meta["lang"] != "en" {
		t.Fatalf("expected metadata to round trip, got %#v", message.UserMetadata)
	}
	testutil.WaitFor(t, testWait, "cursor advance", func() bool { return client.Timetoken() >= result.Timetoken })

	timetoken, err := client.Time(ctx)
	if err != nil || timetoken <= result.Timetoken {
		t.Fatalf("expected a later server timetoken, got %d %v", timetoken, err)
	}
	if fake.Stats().Publishes != 1 {
		t.Fatalf("expected one publish on the server, got %+v", fake.Stats())
	}
}

func TestIntegrationFailoverToHealthyOrigin(t *testing.T) {
	broken, brokenHost := startFakeServer(t, fakeserver.Options{FailEvery: 1})
	_, healthyHost := startFakeServer(t, fakeserver.Options{})
	config := integrationConfiguration("alice", brokenHost, healthyHost)
	config.FailoverThreshold = 2
	client, listener := newIntegrationClient(t, config)

	_ = client.Subscribe(SubscribeOptions{Channels: []string{"room"}})
	reconnected := listener.waitStatus(t, CategoryReconnected)
	if reconnected.Host != healthyHost || client.Status() != StatusConnected {
		t.Fatalf("expected to reconnect on %s, got %+v", healthyHost, reconnected)
	}
	if broken.Stats().Failures != 2 {
		t.Fatalf("expected two failures before failover, got %+v", broken.Stats())
	}
	failures := listener.waitStatusCount(t, CategoryUnexpectedDisconnect, 2)
	if failures[0].StatusCode != http.StatusServiceUnavailable || failures[0].FailedOver || !failures[1].FailedOver {
		t.Fatalf("unexpected failure statuses %+v", failures)
	}
	if client.BaseURL() != "http://"+healthyHost {
		t.Fatalf("expected transactional calls to follow the failover, got %s", client.BaseURL())
	}
}

func TestIntegrationChannelGroupDelivery(t *testing.T) {
	_, host := startFakeServer(t, fakeserver.Options{})
	response, err := http.Get("http://" + host + "/v1/channel-registration/sub-key/sub-key/channel-group/news?add=sports,weather")
	if err != nil {
		t.Fatalf("unexpected registration error: %v", err)
	}
	response.Body.Close()

	client, listener := newIntegrationClient(t, integrationConfiguration("alice", host))
	_ = client.Subscribe(SubscribeOptions{ChannelGroups: []string{"news"}})
	listener.waitStatus(t, CategoryConnected)

	if _, err := client.Publish(context.Background(), "weather", "rain", PublishOptions{}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	message := listener.waitMessages(t, 1)[0]
	if message.Channel != "weather" || message.Subscription != "news" || message.Payload != "rain" {
		t.Fatalf("unexpected group message %+v", message)
	}
}

func TestIntegrationPresenceAndLeave(t *testing.T) {
	fake, host := startFakeServer(t, fakeserver.Options{})
	watcher, watcherListener := newIntegrationClient(t, integrationConfiguration("watcher", host))
	_ = watcher.Subscribe(SubscribeOptions{Channels: []string{"lobby"}, WithPresence: true})
	watcherListener.waitStatus(t, CategoryConnected)

	visitor, visitorListener := newIntegrationClient(t, integrationConfiguration("visitor", host))
	_ = visitor.Subscribe(SubscribeOptions{Channels: []string{"lobby"}})
	visitorListener.waitStatus(t, CategoryConnected)

	testutil.WaitFor(t, testWait, "join event", func() bool {
		for _, event := range watcherListener.presenceSnapshot() {
			if event.Event == "join" && event.UUID == "visitor" {
				return true
			}
		}
		return false
	})

	_ = visitor.Unsubscribe(UnsubscribeOptions{Channels: []string{"lobby"}})
	leave := visitorListener.waitStatus(t, CategoryAcknowledgment)
	if leave.Operation != OperationLeave && leave.Operation != OperationUnsubscribe {
		t.Fatalf("unexpected acknowledgment %+v", leave)
	}
	testutil.WaitFor(t, testWait, "leave event", func() bool {
		for _, event := range watcherListener.presenceSnapshot() {
			if event.Event == "leave" && event.UUID == "visitor" && event.Occupancy == 1 {
				return true
			}
		}
		return false
	})
	if occupants := fake.Occupants("lobby"); len(occupants) != 1 || occupants[0] != "watcher" {
		t.Fatalf("expected only the watcher to remain, got %v", occupants)
	}
	if len(watcherListener.messageSnapshot()) != 0 {
		t.Fatalf("expected presence events not to surface as messages")
	}
}

func TestIntegrationEncryptedRoundTrip(t *testing.T) {
	_, host := startFakeServer(t, fakeserver.Options{})
	config := integrationConfiguration("alice", host)
	config.CipherKey = "enigma"
	client, listener := newIntegrationClient(t, config)

	_ = client.Subscribe(SubscribeOptions{Channels: []string{"vault"}})
	listener.waitStatus(t, CategoryConnected)
	if _, err := client.Publish(context.Background(), "vault", map[string]any{"pin": 1234}, PublishOptions{UsePOST: true}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	message := listener.waitMessages(t, 1)[0]
	payload, ok := message.Payload.(map[string]any)
	if !ok || payload["pin"] == nil {
		t.Fatalf("expected decrypted payload, got %#v", message.Payload)
	}
	if listener.countStatuses(func(status Status) bool { return status.Category == CategoryDecryptionError }) != 0 {
		t.Fatalf("expected no decryption errors")
	}
}

func TestIntegrationAccessDenied(t *testing.T) {
	fake, host := startFakeServer(t, fakeserver.Options{AuthKeys: []string{"granted"}})
	config := integrationConfiguration("alice", host)
	config.AuthKey = "revoked"
	client, listener := newIntegrationClient(t, config)

	_ = client.Subscribe(SubscribeOptions{Channels: []string{"room"}})
	denied := listener.waitStatus(t, CategoryAccessDenied)
	if denied.State != StatusDisconnected || denied.StatusCode != http.StatusForbidden {
		t.Fatalf("unexpected access denied status %+v", denied)
	}
	if _, err := client.Publish(context.Background(), "room", "x", PublishOptions{}); ErrorCode(err) != AccessDeniedError {
		t.Fatalf("expected AccessDeniedError from publish, got %v", err)
	}
	if fake.Stats().Polls != 0 || fake.Stats().Rejected != 2 {
		t.Fatalf("unexpected server stats %+v", fake.Stats())
	}
}
