package pubnub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"
)

// requestFactory builds the service requests the client issues. It owns no
// mutable state besides what the configuration carries.
type requestFactory struct {
	config     *Configuration
	instanceID string
	now        func() time.Time
}

func newRequestFactory(config *Configuration, instanceID string) *requestFactory {
	return &requestFactory{config: config, instanceID: instanceID, now: time.Now}
}

func (factory *requestFactory) commonQuery() url.Values {
	query := url.Values{}
	query.Set("pnsdk", "PubNub-Go/"+Version)
	query.Set("uuid", factory.config.UUID)
	if factory.config.AuthKey != "" {
		query.Set("auth", factory.config.AuthKey)
	}
	if factory.config.IncludeRequestIdentifier {
		query.Set("requestid", xid.New().String())
	}
	if factory.config.IncludeInstanceIdentifier && factory.instanceID != "" {
		query.Set("instanceid", factory.instanceID)
	}
	return query
}

// sign adds timestamp and signature when a secret key is configured.
func (factory *requestFactory) sign(request Request) Request {
	secret := factory.config.SecretKey
	if secret == "" {
		return request
	}
	request.Query.Set("timestamp", strconv.FormatInt(factory.now().Unix(), 10))
	request.Query.Del("signature")
	request.Query.Set("signature", signature(secret, factory.config.SubscribeKey, factory.config.PublishKey, request.Path, request.Query))
	return request
}

// signature is base64url(HMAC-SHA256(secret, "sub\npub\npath\nquery")) over
// the query sorted by key.
func signature(secret string, subscribeKey string, publishKey string, path string, query url.Values) string {
	input := subscribeKey + "\n" + publishKey + "\n" + path + "\n" + strings.ReplaceAll(query.Encode(), "+", "%20")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(input))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

func (factory *requestFactory) time(host string) Request {
	return factory.sign(Request{
		Operation: OperationTime,
		Method:    http.MethodGet,
		Host:      host,
		Path:      "/time/0",
		Query:     factory.commonQuery(),
	})
}

type publishRequest struct {
	channel     string
	message     string
	sequence    int
	meta        string
	store       *bool
	noReplicate bool
	ttl         int
	usePOST     bool
}

func (factory *requestFactory) publish(host string, publish publishRequest) Request {
	path := "/publish/" + url.PathEscape(factory.config.PublishKey) +
		"/" + url.PathEscape(factory.config.SubscribeKey) +
		"/0/" + url.PathEscape(publish.channel) + "/0"
	request := Request{
		Operation: OperationPublish,
		Method:    http.MethodGet,
		Host:      host,
		Query:     factory.commonQuery(),
	}
	if publish.usePOST {
		request.Method = http.MethodPost
		request.Body = []byte(publish.message)
	} else {
		path += "/" + url.PathEscape(publish.message)
	}
	request.Path = path

	request.Query.Set("seqn", strconv.Itoa(publish.sequence))
	if publish.store != nil {
		if *publish.store {
			request.Query.Set("store", "1")
		} else {
			request.Query.Set("store", "0")
		}
	}
	if publish.noReplicate {
		request.Query.Set("norep", "true")
	}
	if publish.meta != "" {
		request.Query.Set("meta", publish.meta)
	}
	if publish.ttl > 0 {
		request.Query.Set("ttl", strconv.Itoa(publish.ttl))
	}
	return factory.sign(request)
}

func (factory *requestFactory) subscribe(host string, channels []string, groups []string, cursor int64, region int) Request {
	request := Request{
		Operation: OperationSubscribe,
		Method:    http.MethodGet,
		Host:      host,
		Path: "/v2/subscribe/" + url.PathEscape(factory.config.SubscribeKey) +
			"/" + channelPath(channels) + "/0",
		Query: factory.commonQuery(),
	}
	request.Query.Set("tt", strconv.FormatInt(cursor, 10))
	if region > 0 {
		request.Query.Set("tr", strconv.Itoa(region))
	}
	if len(groups) > 0 {
		request.Query.Set("channel-group", strings.Join(groups, ","))
	}
	if factory.config.PresenceTimeout > 0 {
		request.Query.Set("heartbeat", strconv.Itoa(factory.config.PresenceTimeout))
	}
	if factory.config.FilterExpression != "" {
		request.Query.Set("filter-expr", factory.config.FilterExpression)
	}
	return factory.sign(request)
}

func (factory *requestFactory) leave(host string, channels []string, groups []string) Request {
	request := Request{
		Operation: OperationLeave,
		Method:    http.MethodGet,
		Host:      host,
		Path: "/v2/presence/sub-key/" + url.PathEscape(factory.config.SubscribeKey) +
			"/channel/" + channelPath(channels) + "/leave",
		Query: factory.commonQuery(),
	}
	if len(groups) > 0 {
		request.Query.Set("channel-group", strings.Join(groups, ","))
	}
	return factory.sign(request)
}

// channelPath joins escaped channel names; an empty list is a lone comma.
func channelPath(channels []string) string {
	if len(channels) == 0 {
		return ","
	}
	escaped := make([]string, len(channels))
	for index, channel := range channels {
		escaped[index] = url.PathEscape(channel)
	}
	return strings.Join(escaped, ",")
}
