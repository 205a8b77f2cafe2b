package pubnub

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/Thejuampi/pubnub-client-go/pubnub/internal/codec"
	"github.com/Thejuampi/pubnub-client-go/pubnub/internal/crypto"
)

// MessageEvent is a message received on a subscribed channel.
type MessageEvent struct {
	// Channel is the channel the message was published to.
	Channel string
	// Subscription is the name that matched, such as a channel group.
	Subscription string
	Timetoken    int64
	Payload      any
	Publisher    string
	UserMetadata any
}

// PresenceEvent is a join, leave, timeout, or state change on a presence channel.
type PresenceEvent struct {
	Event        string
	UUID         string
	Timestamp    int64
	Occupancy    int
	State        any
	Channel      string
	Subscription string
	Timetoken    int64
}

type envelopeCursor struct {
	Timetoken json.Number `json:"t"`
	Region    int         `json:"r"`
}

type envelopeMessage struct {
	Channel      string          `json:"c"`
	Subscription string          `json:"b"`
	Payload      json.RawMessage `json:"d"`
	Publisher    string          `json:"i"`
	Metadata     json.RawMessage `json:"u"`
	Published    envelopeCursor  `json:"p"`
}

type subscribeEnvelope struct {
	Cursor   *envelopeCursor   `json:"t"`
	Messages []envelopeMessage `json:"m"`
}

type presencePayload struct {
	Action    string          `json:"action"`
	UUID      string          `json:"uuid"`
	Timestamp int64           `json:"timestamp"`
	Occupancy int             `json:"occupancy"`
	Data      json.RawMessage `json:"data"`
}

// subscribeEvent is one decoded entry of a poll response. Exactly one of
// message and presence is set.
type subscribeEvent struct {
	timetoken  int64
	message    *MessageEvent
	presence   *PresenceEvent
	decryptErr error
}

type subscribeResponse struct {
	cursor int64
	region int
	events []subscribeEvent
}

// decodeSubscribeResponse parses a poll body and orders its events by
// publish timetoken. Ties keep their wire order.
func decodeSubscribeResponse(data []byte, cipher *crypto.Cipher) (subscribeResponse, error) {
	var envelope subscribeEnvelope
	if err := codec.Decode(data, &envelope); err != nil {
		return subscribeResponse{}, NewError(ProtocolError, "decode subscribe response", err)
	}
	if envelope.Cursor == nil {
		return subscribeResponse{}, NewError(ProtocolError, "subscribe response has no cursor")
	}
	cursor, err := parseTimetoken(envelope.Cursor.Timetoken)
	if err != nil {
		return subscribeResponse{}, err
	}

	response := subscribeResponse{
		cursor: cursor,
		region: envelope.Cursor.Region,
		events: make([]subscribeEvent, 0, len(envelope.Messages)),
	}
	for _, message := range envelope.Messages {
		event, err := decodeEvent(message, cursor, cipher)
		if err != nil {
			return subscribeResponse{}, err
		}
		response.events = append(response.events, event)
	}
	sort.SliceStable(response.events, func(left, right int) bool {
		return response.events[left].timetoken < response.events[right].timetoken
	})
	return response, nil
}

func decodeEvent(message envelopeMessage, cursor int64, cipher *crypto.Cipher) (subscribeEvent, error) {
	timetoken := cursor
	if message.Published.Timetoken != "" {
		parsed, err := parseTimetoken(message.Published.Timetoken)
		if err != nil {
			return subscribeEvent{}, err
		}
		timetoken = parsed
	}
	subscription := message.Subscription
	if subscription == "" {
		subscription = message.Channel
	}

	if isPresenceChannel(message.Channel) {
		var payload presencePayload
		if err := codec.Decode(message.Payload, &payload); err != nil {
			return subscribeEvent{}, NewError(ProtocolError, "decode presence event", err)
		}
		state, err := codec.DecodeValue(payload.Data)
		if err != nil {
			return subscribeEvent{}, NewError(ProtocolError, "decode presence state", err)
		}
		return subscribeEvent{
			timetoken: timetoken,
			presence: &PresenceEvent{
				Event:        payload.Action,
				UUID:         payload.UUID,
				Timestamp:    payload.Timestamp,
				Occupancy:    payload.Occupancy,
				State:        state,
				Channel:      trimPresenceSuffix(message.Channel),
				Subscription: trimPresenceSuffix(subscription),
				Timetoken:    timetoken,
			},
		}, nil
	}

	payload, err := codec.DecodeValue(message.Payload)
	if err != nil {
		return subscribeEvent{}, NewError(ProtocolError, "decode message payload", err)
	}
	metadata, err := codec.DecodeValue(message.Metadata)
	if err != nil {
		return subscribeEvent{}, NewError(ProtocolError, "decode message metadata", err)
	}

	var decryptErr error
	if cipher != nil {
		payload, decryptErr = decryptPayload(cipher, payload)
	}
	return subscribeEvent{
		timetoken: timetoken,
		message: &MessageEvent{
			Channel:      message.Channel,
			Subscription: subscription,
			Timetoken:    timetoken,
			Payload:      payload,
			Publisher:    message.Publisher,
			UserMetadata: metadata,
		},
		decryptErr: decryptErr,
	}, nil
}

// decryptPayload returns the decrypted value, or the raw payload and a
// CryptoError when it cannot be decrypted.
func decryptPayload(cipher *crypto.Cipher, payload any) (any, error) {
	encrypted, ok := payload.(string)
	if !ok {
		return payload, NewError(CryptoError, "encrypted payload is not a string")
	}
	plaintext, err := cipher.Decrypt(encrypted)
	if err != nil {
		return payload, NewError(CryptoError, "decrypt message payload", err)
	}
	decoded, err := codec.DecodeValue([]byte(plaintext))
	if err != nil {
		return plaintext, nil
	}
	return decoded, nil
}

func parseTimetoken(value json.Number) (int64, error) {
	parsed, err := strconv.ParseInt(value.String(), 10, 64)
	if err != nil || parsed < 0 {
		return 0, NewError(ProtocolError, "invalid timetoken "+strconv.Quote(value.String()))
	}
	return parsed, nil
}
