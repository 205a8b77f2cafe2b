package pubnub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Thejuampi/pubnub-client-go/pubnub/internal/codec"
)

// PublishOptions tune a single publish.
type PublishOptions struct {
	// Meta is sent alongside the message for server-side filtering.
	Meta any
	// Store overrides the key's storage default when set.
	Store       *bool
	NoReplicate bool
	// TTL is the storage lifetime in hours. Zero uses the key default.
	TTL     int
	UsePOST bool
}

// PublishResult describes an accepted publish.
type PublishResult struct {
	Timetoken int64
	Sequence  int
}

// Publish sends message to channel. The sequence number is consumed even
// when the call fails.
func (client *Client) Publish(ctx context.Context, channel string, message any, options PublishOptions) (PublishResult, error) {
	return client.publish(ctx, channel, message, options, false)
}

// Fire publishes without storage or replication.
func (client *Client) Fire(ctx context.Context, channel string, message any, options PublishOptions) (PublishResult, error) {
	stored := false
	options.Store = &stored
	options.NoReplicate = true
	return client.publish(ctx, channel, message, options, true)
}

func (client *Client) publish(ctx context.Context, channel string, message any, options PublishOptions, fire bool) (PublishResult, error) {
	if err := client.ensureActive(); err != nil {
		return PublishResult{}, err
	}
	if client.config.PublishKey == "" {
		return PublishResult{}, NewError(InvalidArgumentsError, "publish key is required")
	}
	if client.config.SubscribeKey == "" {
		return PublishResult{}, NewError(InvalidArgumentsError, "subscribe key is required")
	}
	if strings.TrimSpace(channel) == "" {
		return PublishResult{}, NewError(InvalidArgumentsError, "channel is required")
	}
	if message == nil {
		return PublishResult{}, NewError(InvalidArgumentsError, "message is required")
	}
	if options.TTL < 0 {
		return PublishResult{}, NewError(InvalidArgumentsError, "ttl must not be negative")
	}

	payload, err := codec.EncodeString(message)
	if err != nil {
		return PublishResult{}, NewError(InvalidArgumentsError, "encode message", err)
	}
	var meta string
	if options.Meta != nil {
		if meta, err = codec.EncodeString(options.Meta); err != nil {
			return PublishResult{}, NewError(InvalidArgumentsError, "encode meta", err)
		}
	}
	if client.cipher != nil {
		encrypted, err := client.cipher.Encrypt(payload)
		if err != nil {
			return PublishResult{}, NewError(CryptoError, "encrypt message", err)
		}
		if payload, err = codec.EncodeString(encrypted); err != nil {
			return PublishResult{}, NewError(CryptoError, "encode ciphertext", err)
		}
	}

	sequence := client.sequence.Next()
	host := client.selector.Current()
	request := client.requests.publish(host, publishRequest{
		channel:     channel,
		message:     payload,
		sequence:    sequence,
		meta:        meta,
		store:       options.Store,
		noReplicate: options.NoReplicate,
		ttl:         options.TTL,
		usePOST:     options.UsePOST,
	})

	data, err := client.transport.Transaction(ctx, request)
	if err == nil {
		var timetoken int64
		timetoken, err = decodePublishResponse(data)
		if err == nil {
			client.metrics.recordPublish(ctx, fire, nil)
			client.logger.Debug("publish.sent", "channel", channel, "sequence", sequence, "timetoken", timetoken)
			return PublishResult{Timetoken: timetoken, Sequence: sequence}, nil
		}
	}
	client.metrics.recordPublish(ctx, fire, err)
	client.logger.Warn("publish.error", "channel", channel, "sequence", sequence, "host", host, "error", err)
	return PublishResult{Sequence: sequence}, err
}

// decodePublishResponse reads [1,"Sent","<timetoken>"].
func decodePublishResponse(data []byte) (int64, error) {
	var fields []any
	if err := codec.Decode(data, &fields); err != nil {
		return 0, NewError(ProtocolError, "decode publish response", err)
	}
	if len(fields) < 3 {
		return 0, NewError(ProtocolError, fmt.Sprintf("publish response has %d fields", len(fields)))
	}
	if code, ok := fields[0].(json.Number); !ok || code.String() != "1" {
		return 0, NewError(BadRequestError, fmt.Sprintf("publish rejected: %v", fields[1]))
	}
	switch value := fields[2].(type) {
	case string:
		return parseTimetoken(json.Number(value))
	case json.Number:
		return parseTimetoken(value)
	}
	return 0, NewError(ProtocolError, "publish response has no timetoken")
}

// decodeTimeResponse reads [<timetoken>].
func decodeTimeResponse(data []byte) (int64, error) {
	var fields []json.Number
	if err := codec.Decode(data, &fields); err != nil {
		return 0, NewError(ProtocolError, "decode time response", err)
	}
	if len(fields) == 0 {
		return 0, NewError(ProtocolError, "time response is empty")
	}
	return parseTimetoken(fields[0])
}
