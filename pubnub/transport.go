package pubnub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 32 << 20

// Request is one call against the service. Path is already escaped.
type Request struct {
	Operation Operation
	Method    string
	Host      string
	Path      string
	Query     url.Values
	Body      []byte
}

// Transport issues requests for the client. Transaction is used for
// single-shot calls and Subscribe for the long poll; implementations must
// keep their connection limits separate.
type Transport interface {
	Transaction(ctx context.Context, request Request) ([]byte, error)
	Subscribe(ctx context.Context, request Request) ([]byte, error)
	Close() error
}

// HTTPTransport is the default Transport. It keeps two pools so a hung
// long poll never takes connections needed by publish.
type HTTPTransport struct {
	secure        bool
	userAgent     string
	transactional *http.Client
	subscribe     *http.Client
	closed        atomic.Bool
}

// NewHTTPTransport builds both pools from config.
func NewHTTPTransport(config *Configuration) *HTTPTransport {
	if config == nil {
		config = NewConfiguration()
	}
	connectTimeout := config.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	newPool := func(conns int, timeout time.Duration, operation string) *http.Client {
		base := http.DefaultTransport.(*http.Transport).Clone()
		dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
		base.DialContext = dialer.DialContext
		base.TLSHandshakeTimeout = connectTimeout
		base.MaxConnsPerHost = conns
		base.MaxIdleConnsPerHost = conns
		return &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(base,
				otelhttp.WithSpanNameFormatter(func(_ string, request *http.Request) string {
					return "pubnub." + operation + " " + request.Method
				}),
			),
		}
	}
	return &HTTPTransport{
		secure:        config.Secure,
		userAgent:     "PubNub-Go/" + Version,
		transactional: newPool(positiveOr(config.MaxTransactionalConnsPerHost, DefaultMaxTransactionalConnsPerHost), positiveDuration(config.NonSubscribeRequestTimeout, DefaultNonSubscribeRequestTimeout), "transaction"),
		subscribe:     newPool(positiveOr(config.MaxSubscribeConnsPerHost, DefaultMaxSubscribeConnsPerHost), positiveDuration(config.SubscribeTimeout, DefaultSubscribeTimeout), "subscribe"),
	}
}

// Transaction sends request through the transactional pool.
func (transport *HTTPTransport) Transaction(ctx context.Context, request Request) ([]byte, error) {
	if transport == nil {
		return nil, NewError(ConnectionError, "nil transport")
	}
	return transport.do(ctx, transport.transactional, request)
}

// Subscribe sends request through the long-poll pool.
func (transport *HTTPTransport) Subscribe(ctx context.Context, request Request) ([]byte, error) {
	if transport == nil {
		return nil, NewError(ConnectionError, "nil transport")
	}
	return transport.do(ctx, transport.subscribe, request)
}

// Close drops idle connections from both pools. Later calls fail.
func (transport *HTTPTransport) Close() error {
	if transport == nil || !transport.closed.CompareAndSwap(false, true) {
		return nil
	}
	transport.transactional.CloseIdleConnections()
	transport.subscribe.CloseIdleConnections()
	return nil
}

func (transport *HTTPTransport) do(ctx context.Context, client *http.Client, request Request) ([]byte, error) {
	if transport.closed.Load() {
		return nil, NewError(DestroyedError, "transport is closed")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if request.Host == "" {
		return nil, NewError(ConnectionError, "no endpoint host available")
	}
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	target := baseURL(request.Host, transport.secure) + request.Path
	if len(request.Query) > 0 {
		target += "?" + request.Query.Encode()
	}

	var body io.Reader
	if len(request.Body) > 0 {
		body = bytes.NewReader(request.Body)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, NewError(InvalidArgumentsError, "build request", err)
	}
	httpRequest.Header.Set("User-Agent", transport.userAgent)
	httpRequest.Header.Set("Accept", "application/json")
	if body != nil {
		httpRequest.Header.Set("Content-Type", "application/json")
	}

	response, err := client.Do(httpRequest)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	if err := statusError(response.StatusCode, data); err != nil {
		return data, err
	}
	return data, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return NewError(TimedOutError, "request deadline exceeded", ctxErr)
		}
		return NewError(ConnectionError, "request cancelled", ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(TimedOutError, err)
	}
	return NewError(ConnectionError, err)
}

func statusError(statusCode int, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusForbidden || statusCode == http.StatusUnauthorized:
		return newHTTPError(AccessDeniedError, statusCode, responseMessage(statusCode, body))
	case statusCode >= 400 && statusCode < 500:
		return newHTTPError(BadRequestError, statusCode, responseMessage(statusCode, body))
	case statusCode >= 500:
		return newHTTPError(ServerError, statusCode, responseMessage(statusCode, body))
	}
	return newHTTPError(ProtocolError, statusCode, responseMessage(statusCode, body))
}

func responseMessage(statusCode int, body []byte) string {
	message := "HTTP " + strconv.Itoa(statusCode)
	if len(body) == 0 {
		return message
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return message + ": " + string(bytes.TrimSpace(body))
}

func positiveOr(value int, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func positiveDuration(value time.Duration, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
