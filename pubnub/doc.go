// Package pubnub provides a client runtime for a hosted publish/subscribe
// service reached over HTTP long-poll.
//
// The primary lifecycle is:
//   - build a Configuration with NewConfiguration or ConfigurationFromEnv
//   - construct a Client with New
//   - AddListener to receive messages, presence events and status changes
//   - Subscribe to channels or channel groups, Publish or Fire messages
//   - Destroy when finished
//
// One background goroutine per client owns the subscription loop. It is the
// only writer of the connection status and the timetoken cursor; facade
// calls queue commands for it and return immediately. Listener callbacks run
// on that goroutine one at a time, in registration order.
//
// Failed polls are retried with the configured ReconnectDelayStrategy. After
// FailoverThreshold consecutive failures the EndpointSelector rotates to the
// next host. Background failures are reported to listeners as Status events;
// foreground calls such as Publish return a typed *Error created with
// NewError.
//
// Live tests are environment-gated and use these variables:
// PUBNUB_TEST_SUBSCRIBE_KEY, PUBNUB_TEST_PUBLISH_KEY and PUBNUB_TEST_ORIGIN.
package pubnub
