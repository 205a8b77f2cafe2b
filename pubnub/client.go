package pubnub

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"go.opentelemetry.io/otel/metric"
	"pkt.systems/pslog"

	"github.com/Thejuampi/pubnub-client-go/pubnub/internal/crypto"
)

// Client is the public surface of the runtime. All methods are safe for
// concurrent use.
type Client struct {
	config        *Configuration
	logger        pslog.Base
	transport     Transport
	selector      EndpointSelector
	strategy      ReconnectDelayStrategy
	meterProvider metric.MeterProvider
	sequence      *SequenceGenerator
	requests      *requestFactory
	listeners     *listenerRegistry
	set           *subscriptionSet
	loop          *subscriptionLoop
	metrics       *clientMetrics
	cipher        *crypto.Cipher
	instanceID    string
	destroyed     atomic.Bool
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger supplies a logger for client diagnostics.
// Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Base) Option {
	return func(client *Client) {
		if logger == nil {
			client.logger = pslog.NoopLogger()
			return
		}
		if full, ok := logger.(pslog.Logger); ok {
			client.logger = full.With("sys", "pubnub.client")
			return
		}
		client.logger = logger
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(transport Transport) Option {
	return func(client *Client) {
		if transport != nil {
			client.transport = transport
		}
	}
}

// WithEndpointSelector replaces the selector built from the origin settings.
func WithEndpointSelector(selector EndpointSelector) Option {
	return func(client *Client) {
		if selector != nil {
			client.selector = selector
		}
	}
}

// WithReconnectDelayStrategy replaces the strategy chosen by ReconnectionPolicy.
func WithReconnectDelayStrategy(strategy ReconnectDelayStrategy) Option {
	return func(client *Client) {
		if strategy != nil {
			client.strategy = strategy
		}
	}
}

// WithMeterProvider records client metrics on provider instead of the global one.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(client *Client) {
		client.meterProvider = provider
	}
}

// New creates a client and starts its subscription loop. The loop idles
// until the first Subscribe.
func New(config *Configuration, options ...Option) (*Client, error) {
	normalized, err := config.normalized()
	if err != nil {
		return nil, err
	}

	client := &Client{
		config:     normalized,
		logger:     pslog.NoopLogger(),
		sequence:   NewSequenceGenerator(MaxSequence),
		listeners:  newListenerRegistry(),
		set:        newSubscriptionSet(),
		instanceID: uuid.NewString(),
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}

	if normalized.CipherKey != "" {
		cipher, err := crypto.New(normalized.CipherKey)
		if err != nil {
			return nil, NewError(CryptoError, "cipher key", err)
		}
		client.cipher = cipher
	}
	if client.selector == nil {
		client.selector = NewEndpointSelector(candidateHosts(normalized)...)
	}
	if client.strategy == nil {
		client.strategy = strategyForConfiguration(normalized)
	}
	if client.transport == nil {
		client.transport = NewHTTPTransport(normalized)
	}
	client.requests = newRequestFactory(normalized, client.instanceID)
	client.metrics = newClientMetrics(client.logger, client.meterProvider, client.Status)
	client.loop = newSubscriptionLoop(loopSettings{
		policy:        normalized.ReconnectionPolicy,
		threshold:     normalized.FailoverThreshold,
		maxRetries:    normalized.MaximumReconnectionRetries,
		suppressLeave: normalized.SuppressLeaveEvents,
		cipher:        client.cipher,
		requests:      client.requests,
		transport:     client.transport,
		selector:      client.selector,
		strategy:      client.strategy,
		set:           client.set,
		listeners:     client.listeners,
		metrics:       client.metrics,
		logger:        client.logger,
		owner:         client,
	})
	client.loop.start()

	client.logger.Info("client.init",
		"uuid", normalized.UUID,
		"instance", client.instanceID,
		"origin", client.selector.Current(),
		"candidates", len(client.selector.Candidates()),
		"policy", normalized.ReconnectionPolicy.String(),
	)
	return client, nil
}

func (client *Client) ensureActive() error {
	if client == nil {
		return NewError(InvalidArgumentsError, "nil client")
	}
	if client.destroyed.Load() {
		return NewError(DestroyedError, "client is destroyed")
	}
	return nil
}

func (client *Client) submit(command loopCommand) error {
	if !client.loop.submit(command) {
		return NewError(DestroyedError, "client is destroyed")
	}
	return nil
}

// SubscribeOptions names what to subscribe to.
type SubscribeOptions struct {
	Channels      []string
	ChannelGroups []string
	// WithPresence also subscribes to the presence channel of every name.
	WithPresence bool
}

// UnsubscribeOptions names what to unsubscribe from.
type UnsubscribeOptions struct {
	Channels      []string
	ChannelGroups []string
}

func validNames(kind string, names []string) error {
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return NewError(InvalidArgumentsError, kind+" name must not be empty")
		}
	}
	return nil
}

// Subscribe adds channels and groups to the subscription set. The first
// subscribe starts polling; later ones rebuild the in-flight poll.
func (client *Client) Subscribe(options SubscribeOptions) error {
	if err := client.ensureActive(); err != nil {
		return err
	}
	if client.config.SubscribeKey == "" {
		return NewError(InvalidArgumentsError, "subscribe key is required")
	}
	if len(options.Channels) == 0 && len(options.ChannelGroups) == 0 {
		return NewError(InvalidArgumentsError, "at least one channel or channel group is required")
	}
	if err := validNames("channel", options.Channels); err != nil {
		return err
	}
	if err := validNames("channel group", options.ChannelGroups); err != nil {
		return err
	}

	client.set.add(options.Channels, options.ChannelGroups, options.WithPresence)
	return client.submit(loopCommand{
		kind:     commandSubscribe,
		channels: append([]string(nil), options.Channels...),
		groups:   append([]string(nil), options.ChannelGroups...),
	})
}

// Unsubscribe removes channels and groups. Removing the last member stops
// polling and moves the client to StatusUnsubscribed.
func (client *Client) Unsubscribe(options UnsubscribeOptions) error {
	if err := client.ensureActive(); err != nil {
		return err
	}
	if len(options.Channels) == 0 && len(options.ChannelGroups) == 0 {
		return NewError(InvalidArgumentsError, "at least one channel or channel group is required")
	}
	if err := validNames("channel", options.Channels); err != nil {
		return err
	}
	if err := validNames("channel group", options.ChannelGroups); err != nil {
		return err
	}
	channels, groups := client.set.remove(options.Channels, options.ChannelGroups)
	return client.submit(loopCommand{kind: commandUnsubscribe, channels: channels, groups: groups})
}

// UnsubscribeAll empties the subscription set.
func (client *Client) UnsubscribeAll() error {
	if err := client.ensureActive(); err != nil {
		return err
	}
	channels, groups := client.set.clear()
	return client.submit(loopCommand{kind: commandUnsubscribe, channels: channels, groups: groups})
}

// AddListener registers listener. Adding the same listener twice is a no-op.
func (client *Client) AddListener(listener Listener) {
	if client == nil || client.destroyed.Load() {
		return
	}
	client.listeners.add(listener)
}

// RemoveListener unregisters listener. A callback already running finishes.
func (client *Client) RemoveListener(listener Listener) {
	if client == nil {
		return
	}
	client.listeners.remove(listener)
}

// Reconnect cancels any pending backoff and polls again from the current cursor.
func (client *Client) Reconnect() error {
	if err := client.ensureActive(); err != nil {
		return err
	}
	return client.submit(loopCommand{kind: commandReconnect})
}

// Disconnect stops polling but keeps the subscription set.
func (client *Client) Disconnect() error {
	if err := client.ensureActive(); err != nil {
		return err
	}
	return client.submit(loopCommand{kind: commandDisconnect})
}

// Destroy stops the loop, drops listeners and releases the transport. Every
// later call fails with DestroyedError. Called from a listener callback it
// returns without waiting for the loop to exit.
func (client *Client) Destroy() error {
	if client == nil || !client.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	client.loop.stop()
	client.listeners.clear()
	client.metrics.close()
	err := client.transport.Close()
	client.logger.Info("client.destroy", "instance", client.instanceID, "cursor", client.loop.timetoken())
	return err
}

// SubscribedChannels returns the subscribed channel names, sorted.
func (client *Client) SubscribedChannels() []string {
	if client == nil {
		return nil
	}
	channels, _ := client.set.names()
	return channels
}

// SubscribedChannelGroups returns the subscribed group names, sorted.
func (client *Client) SubscribedChannelGroups() []string {
	if client == nil {
		return nil
	}
	_, groups := client.set.names()
	return groups
}

// Status returns the current connection status.
func (client *Client) Status() ConnectionStatus {
	if client == nil || client.loop == nil {
		return StatusDisconnected
	}
	return client.loop.status()
}

// Timetoken returns the subscription cursor.
func (client *Client) Timetoken() int64 {
	if client == nil || client.loop == nil {
		return 0
	}
	return client.loop.timetoken()
}

// Configuration returns a copy of the effective configuration.
func (client *Client) Configuration() *Configuration {
	if client == nil {
		return nil
	}
	return client.config.Clone()
}

// BaseURL returns the scheme and host requests currently go to.
func (client *Client) BaseURL() string {
	if client == nil {
		return ""
	}
	return baseURL(client.selector.Current(), client.config.Secure)
}

// InstanceID identifies this client instance.
func (client *Client) InstanceID() string {
	if client == nil {
		return ""
	}
	return client.instanceID
}

// RequestID returns a fresh request identifier.
func (client *Client) RequestID() string {
	return xid.New().String()
}

// Version returns the SDK version.
func (client *Client) Version() string {
	return Version
}

// Timestamp returns the current Unix time in seconds.
func (client *Client) Timestamp() int64 {
	return time.Now().Unix()
}

// Time asks the service for its current timetoken.
func (client *Client) Time(ctx context.Context) (int64, error) {
	if err := client.ensureActive(); err != nil {
		return 0, err
	}
	data, err := client.transport.Transaction(ctx, client.requests.time(client.selector.Current()))
	if err != nil {
		client.logger.Warn("time.error", "error", err)
		return 0, err
	}
	return decodeTimeResponse(data)
}

// Encrypt encrypts plaintext with the configured cipher key.
func (client *Client) Encrypt(plaintext string) (string, error) {
	if client == nil || client.cipher == nil {
		return "", NewError(CryptoError, "cipher key is not configured", crypto.ErrMissingKey)
	}
	return client.cipher.Encrypt(plaintext)
}

// EncryptWithKey encrypts plaintext with cipherKey.
func (client *Client) EncryptWithKey(plaintext string, cipherKey string) (string, error) {
	cipher, err := crypto.New(cipherKey)
	if err != nil {
		return "", NewError(CryptoError, err)
	}
	return cipher.Encrypt(plaintext)
}

// Decrypt decrypts ciphertext with the configured cipher key.
func (client *Client) Decrypt(ciphertext string) (string, error) {
	if client == nil || client.cipher == nil {
		return "", NewError(CryptoError, "cipher key is not configured", crypto.ErrMissingKey)
	}
	plaintext, err := client.cipher.Decrypt(ciphertext)
	if err != nil {
		return "", NewError(CryptoError, err)
	}
	return plaintext, nil
}

// DecryptWithKey decrypts ciphertext with cipherKey.
func (client *Client) DecryptWithKey(ciphertext string, cipherKey string) (string, error) {
	cipher, err := crypto.New(cipherKey)
	if err != nil {
		return "", NewError(CryptoError, err)
	}
	plaintext, err := cipher.Decrypt(ciphertext)
	if err != nil {
		return "", NewError(CryptoError, err)
	}
	return plaintext, nil
}
