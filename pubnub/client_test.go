package pubnub

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Thejuampi/pubnub-client-go/pubnub/internal/codec"
	"github.com/Thejuampi/pubnub-client-go/pubnub/internal/testutil"
)

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	if _, err := New(nil); ErrorCode(err) != InvalidArgumentsError {
		t.Fatalf("expected InvalidArgumentsError for nil configuration, got %v", err)
	}
	config := testConfiguration()
	config.PresenceTimeout = -1
	if _, err := New(config, WithTransport(newScriptedTransport())); ErrorCode(err) != InvalidArgumentsError {
		t.Fatalf("expected InvalidArgumentsError for negative presence timeout, got %v", err)
	}
}

func TestSubscribeValidatesArguments(t *testing.T) {
	client, _ := newTestClient(t, nil, newScriptedTransport())

	cases := []SubscribeOptions{
		{},
		{Channels: []string{""}},
		{Channels: []string{"ok"}, ChannelGroups: []string{"  "}},
	}
	for _, options := range cases {
		if err := client.Subscribe(options); ErrorCode(err) != InvalidArgumentsError {
			t.Fatalf("expected InvalidArgumentsError for %+v, got %v", options, err)
		}
	}
	if err := client.Unsubscribe(UnsubscribeOptions{}); ErrorCode(err) != InvalidArgumentsError {
		t.Fatalf("expected InvalidArgumentsError for empty unsubscribe, got %v", err)
	}
	if client.Status() != StatusDisconnected || len(client.SubscribedChannels()) != 0 {
		t.Fatalf("expected rejected calls to leave the client idle")
	}

	config := testConfiguration()
	config.SubscribeKey = ""
	keyless, _ := newTestClient(t, config, newScriptedTransport())
	if err := keyless.Subscribe(SubscribeOptions{Channels: []string{"room"}}); ErrorCode(err) != InvalidArgumentsError {
		t.Fatalf("expected InvalidArgumentsError without subscribe key, got %v", err)
	}
}

func TestSubscribedNamesAreSortedAndDeduplicated(t *testing.T) {
	client, _ := newTestClient(t, nil, newScriptedTransport())
	_ = client.Subscribe(SubscribeOptions{Channels: []string{"b", "a"}, ChannelGroups: []string{"g2"}})
	_ = client.Subscribe(SubscribeOptions{Channels: []string{"a"}, ChannelGroups: []string{"g1"}})

	if channels := strings.Join(client.SubscribedChannels(), ","); channels != "a,b" {
		t.Fatalf("expected a,b got %s", channels)
	}
	if groups := strings.Join(client.SubscribedChannelGroups(), ","); groups != "g1,g2" {
		t.Fatalf("expected g1,g2 got %s", groups)
	}
}

func TestPublishSendsRequestAndReturnsTimetoken(t *testing.T) {
	transport := newScriptedTransport()
	transport.queueTransactions(respond(`[1,"Sent","17000000000000001"]`))
	client, _ := newTestClient(t, nil, transport)

	result, err := client.Publish(context.Background(), "my channel", map[string]any{"text": "hi"}, PublishOptions{
		Meta: map[string]string{"k": "v"},
		TTL:  4,
	})
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if result.Timetoken != 17000000000000001 || result.Sequence != 1 {
		t.Fatalf("unexpected publish result %+v", result)
	}

	request := transport.transaction(0)
	expectedPath := "/publish/pub-key/sub-key/0/my%20channel/0/" + url.PathEscape(`{"text":"hi"}`)
	if request.Path != expectedPath {
		t.Fatalf("expected path %q, got %q", expectedPath, request.Path)
	}
	if request.Query.Get("seqn") != "1" || request.Query.Get("meta") != `{"k":"v"}` || request.Query.Get("ttl") != "4" {
		t.Fatalf("unexpected publish query %v", request.Query)
	}
	if request.Query.Has("store") || request.Query.Has("norep") {
		t.Fatalf("expected key defaults for storage and replication, got %v", request.Query)
	}
}

func TestFireDisablesStorageAndReplication(t *testing.T) {
	transport := newScriptedTransport()
	transport.queueTransactions(respond(`[1,"Sent","5"]`))
	client, _ := newTestClient(t, nil, transport)

	stored := true
	if _, err := client.Fire(context.Background(), "room", "ping", PublishOptions{Store: &stored}); err != nil {
		t.Fatalf("unexpected fire error: %v", err)
	}
	query := transport.transaction(0).Query
	if query.Get("store") != "0" || query.Get("norep") != "true" {
		t.Fatalf("expected fire to force store=0 and norep=true, got %v", query)
	}
}

func TestPublishConsumesSequenceOnFailure(t *testing.T) {
	transport := newScriptedTransport()
	transport.queueTransactions(
		respond(`[1,"Sent","10"]`),
		fail(NewError(ConnectionError, "refused")),
		respond(`[0,"Invalid Key","0"]`),
		respond(`[1,"Sent","12"]`),
	)
	client, _ := newTestClient(t, nil, transport)
	ctx := context.Background()

	first, _ := client.Publish(ctx, "room", 1, PublishOptions{})
	failed, err := client.Publish(ctx, "room", 2, PublishOptions{})
	if ErrorCode(err) != ConnectionError || failed.Sequence != 2 {
		t.Fatalf("expected ConnectionError with sequence 2, got %+v %v", failed, err)
	}
	rejected, err := client.Publish(ctx, "room", 3, PublishOptions{})
	if ErrorCode(err) != BadRequestError || rejected.Sequence != 3 {
		t.Fatalf("expected BadRequestError with sequence 3, got %+v %v", rejected, err)
	}
	last, err := client.Publish(ctx, "room", 4, PublishOptions{})
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if first.Sequence != 1 || last.Sequence != 4 {
		t.Fatalf("expected sequences 1 and 4, got %d and %d", first.Sequence, last.Sequence)
	}
}

func TestPublishValidatesArgumentsWithoutConsumingSequence(t *testing.T) {
	transport := newScriptedTransport()
	client, _ := newTestClient(t, nil, transport)
	ctx := context.Background()

	if _, err := client.Publish(ctx, " ", "x", PublishOptions{}); ErrorCode(err) != InvalidArgumentsError {
		t.Fatalf("expected InvalidArgumentsError for empty channel, got %v", err)
	}
	if _, err := client.Publish(ctx, "room", nil, PublishOptions{}); ErrorCode(err) != InvalidArgumentsError {
		t.Fatalf("expected InvalidArgumentsError for nil message, got %v", err)
	}
	if _, err := client.Publish(ctx, "room", make(chan int), PublishOptions{}); ErrorCode(err) != InvalidArgumentsError {
		t.Fatalf("expected InvalidArgumentsError for unencodable message, got %v", err)
	}
	if _, err := client.Publish(ctx, "room", "x", PublishOptions{TTL: -1}); ErrorCode(err) != InvalidArgumentsError {
		t.Fatalf("expected InvalidArgumentsError for negative ttl, got %v", err)
	}
	if transport.transactionCount() != 0 {
		t.Fatalf("expected no requests for invalid publishes")
	}

	result, err := client.Publish(ctx, "room", "x", PublishOptions{})
	if err != nil || result.Sequence != 1 {
		t.Fatalf("expected first valid publish to use sequence 1, got %+v %v", result, err)
	}

	config := testConfiguration()
	config.PublishKey = ""
	keyless, _ := newTestClient(t, config, newScriptedTransport())
	if _, err := keyless.Publish(ctx, "room", "x", PublishOptions{}); ErrorCode(err) != InvalidArgumentsError {
		t.Fatalf("expected InvalidArgumentsError without publish key, got %v", err)
	}
}

func TestPublishEncryptsWithCipherKey(t *testing.T) {
	transport := newScriptedTransport()
	config := testConfiguration()
	config.CipherKey = "enigma"
	client, _ := newTestClient(t, config, transport)

	if _, err := client.Publish(context.Background(), "room", map[string]int{"a": 1}, PublishOptions{UsePOST: true}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	body := transport.transaction(0).Body
	ciphertext, err := codec.DecodeValue(body)
	if err != nil {
		t.Fatalf("expected a JSON string body, got %q: %v", body, err)
	}
	encoded, ok := ciphertext.(string)
	if !ok {
		t.Fatalf("expected ciphertext string, got %#v", ciphertext)
	}
	plaintext, err := client.Decrypt(encoded)
	if err != nil || plaintext != `{"a":1}` {
		t.Fatalf("expected round trip to the JSON message, got %q %v", plaintext, err)
	}
}

func TestTime(t *testing.T) {
	transport := newScriptedTransport()
	transport.queueTransactions(respond(`[17000000000000000]`), respond(`{}`))
	client, _ := newTestClient(t, nil, transport)

	timetoken, err := client.Time(context.Background())
	if err != nil || timetoken != 17000000000000000 {
		t.Fatalf("unexpected time result %d %v", timetoken, err)
	}
	if path := transport.transaction(0).Path; path != "/time/0" {
		t.Fatalf("unexpected time path %q", path)
	}
	if _, err := client.Time(context.Background()); ErrorCode(err) != ProtocolError {
		t.Fatalf("expected ProtocolError for a malformed time response, got %v", err)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	plain, _ := newTestClient(t, nil, newScriptedTransport())
	if _, err := plain.Encrypt("x"); ErrorCode(err) != CryptoError {
		t.Fatalf("expected CryptoError without cipher key, got %v", err)
	}

	ciphertext, err := plain.EncryptWithKey("hello", "key-1")
	if err != nil {
		t.Fatalf("unexpected encrypt error: %v", err)
	}
	if decrypted, err := plain.DecryptWithKey(ciphertext, "key-1"); err != nil || decrypted != "hello" {
		t.Fatalf("expected round trip, got %q %v", decrypted, err)
	}
	if _, err := plain.DecryptWithKey(ciphertext, "key-2"); ErrorCode(err) != CryptoError {
		t.Fatalf("expected CryptoError for the wrong key, got %v", err)
	}
	if _, err := plain.EncryptWithKey("hello", ""); ErrorCode(err) != CryptoError {
		t.Fatalf("expected CryptoError for an empty key, got %v", err)
	}

	config := testConfiguration()
	config.CipherKey = "key-1"
	keyed, _ := newTestClient(t, config, newScriptedTransport())
	if decrypted, err := keyed.Decrypt(ciphertext); err != nil || decrypted != "hello" {
		t.Fatalf("expected configured key to decrypt, got %q %v", decrypted, err)
	}
	if _, err := keyed.Decrypt("!!"); ErrorCode(err) != CryptoError {
		t.Fatalf("expected CryptoError for malformed ciphertext, got %v", err)
	}
}

func TestClientAccessors(t *testing.T) {
	client, _ := newTestClient(t, nil, newScriptedTransport())

	if client.BaseURL() != "http://a.example" {
		t.Fatalf("unexpected base url %q", client.BaseURL())
	}
	if client.InstanceID() == "" || client.InstanceID() == client.RequestID() {
		t.Fatalf("expected a stable instance id distinct from request ids")
	}
	if first, second := client.RequestID(), client.RequestID(); first == second || len(first) != 20 {
		t.Fatalf("expected unique 20 character request ids, got %q %q", first, second)
	}
	if client.Version() != Version {
		t.Fatalf("unexpected version %q", client.Version())
	}
	if delta := client.Timestamp() - time.Now().Unix(); delta < -1 || delta > 1 {
		t.Fatalf("unexpected timestamp skew %d", delta)
	}

	config := client.Configuration()
	config.UUID = "changed"
	if client.Configuration().UUID != "test-user" {
		t.Fatalf("expected Configuration to return a copy")
	}
}

func TestDestroyMakesClientUnusable(t *testing.T) {
	transport := newScriptedTransport(respond(envelope(10)))
	client, listener := newTestClient(t, nil, transport)

	_ = client.Subscribe(SubscribeOptions{Channels: []string{"room1"}})
	listener.waitStatus(t, CategoryConnected)
	transport.waitPolls(t, 2)

	if err := client.Destroy(); err != nil {
		t.Fatalf("unexpected destroy error: %v", err)
	}
	if err := client.Destroy(); err != nil {
		t.Fatalf("expected second destroy to be a no-op, got %v", err)
	}
	statuses := len(listener.statusSnapshot())

	if !transport.isClosed() || transport.cancelled() != 1 {
		t.Fatalf("expected destroy to cancel the poll and close the transport")
	}
	if err := client.Subscribe(SubscribeOptions{Channels: []string{"room2"}}); ErrorCode(err) != DestroyedError {
		t.Fatalf("expected DestroyedError from Subscribe, got %v", err)
	}
	if _, err := client.Publish(context.Background(), "room", "x", PublishOptions{}); !errors.Is(err, NewError(DestroyedError)) {
		t.Fatalf("expected DestroyedError from Publish, got %v", err)
	}
	if _, err := client.Time(context.Background()); ErrorCode(err) != DestroyedError {
		t.Fatalf("expected DestroyedError from Time, got %v", err)
	}
	if err := client.Reconnect(); ErrorCode(err) != DestroyedError {
		t.Fatalf("expected DestroyedError from Reconnect, got %v", err)
	}
	client.AddListener(&recordingListener{})

	time.Sleep(20 * time.Millisecond)
	if len(listener.statusSnapshot()) != statuses {
		t.Fatalf("expected no statuses after destroy")
	}
	if transport.pollCount() != 2 {
		t.Fatalf("expected no polls after destroy, got %d", transport.pollCount())
	}
}

func TestDestroyFromCallbackReturns(t *testing.T) {
	transport := newScriptedTransport(respond(envelope(10)))
	client, _ := newTestClient(t, nil, transport)
	destroyed := make(chan error, 1)
	client.AddListener(&ListenerFuncs{StatusFunc: func(client *Client, status Status) {
		if status.Category == CategoryConnected {
			destroyed <- client.Destroy()
		}
	}})

	_ = client.Subscribe(SubscribeOptions{Channels: []string{"room1"}})
	select {
	case err := <-destroyed:
		if err != nil {
			t.Fatalf("unexpected destroy error: %v", err)
		}
	case <-time.After(testWait):
		t.Fatalf("destroy from a callback did not return")
	}
	testutil.WaitFor(t, testWait, "loop exit", func() bool { return client.Status() == StatusUnsubscribed })
	if transport.pollCount() != 1 {
		t.Fatalf("expected no poll after destroy in a callback, got %d", transport.pollCount())
	}
}
