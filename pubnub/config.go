package pubnub

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
)

// Default configuration values.
const (
	DefaultConnectTimeout               = 5 * time.Second
	DefaultSubscribeTimeout             = 310 * time.Second
	DefaultNonSubscribeRequestTimeout   = 10 * time.Second
	DefaultPresenceTimeout              = 300
	DefaultReconnectBaseDelay           = time.Second
	DefaultReconnectMaxDelay            = 32 * time.Second
	DefaultReconnectMultiplier          = 2.0
	DefaultFailoverThreshold            = 3
	DefaultMaxTransactionalConnsPerHost = 16
	DefaultMaxSubscribeConnsPerHost     = 2
)

// ReconnectionPolicy selects how the subscription loop retries failed polls.
type ReconnectionPolicy int

const (
	ReconnectionPolicyExponential ReconnectionPolicy = iota
	ReconnectionPolicyLinear
	ReconnectionPolicyNone
)

func (policy ReconnectionPolicy) String() string {
	switch policy {
	case ReconnectionPolicyLinear:
		return "linear"
	case ReconnectionPolicyNone:
		return "none"
	default:
		return "exponential"
	}
}

// ParseReconnectionPolicy parses none, linear or exponential.
func ParseReconnectionPolicy(value string) (ReconnectionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "exponential":
		return ReconnectionPolicyExponential, nil
	case "linear":
		return ReconnectionPolicyLinear, nil
	case "none":
		return ReconnectionPolicyNone, nil
	}
	return ReconnectionPolicyExponential, NewError(InvalidArgumentsError, fmt.Sprintf("unknown reconnection policy %q", value))
}

// Decode lets envdecode populate the policy from its string form.
func (policy *ReconnectionPolicy) Decode(value string) error {
	parsed, err := ParseReconnectionPolicy(value)
	if err != nil {
		return err
	}
	*policy = parsed
	return nil
}

// Configuration holds everything a Client needs. Zero durations and counts
// are replaced by the defaults when the client is created.
type Configuration struct {
	SubscribeKey string `env:"PUBNUB_SUBSCRIBE_KEY"`
	PublishKey   string `env:"PUBNUB_PUBLISH_KEY"`
	SecretKey    string `env:"PUBNUB_SECRET_KEY"`
	CipherKey    string `env:"PUBNUB_CIPHER_KEY"`
	AuthKey      string `env:"PUBNUB_AUTH_KEY"`
	// UUID identifies this user to presence. Empty generates pn-<uuid>.
	UUID string `env:"PUBNUB_UUID"`

	// Origin pins a single host and disables rotation.
	Origin string `env:"PUBNUB_ORIGIN"`
	// Origins is the ordered failover candidate list.
	Origins      []string `env:"PUBNUB_ORIGINS"`
	CacheBusting bool     `env:"PUBNUB_CACHE_BUSTING"`
	Secure       bool     `env:"PUBNUB_SECURE,default=true"`

	ConnectTimeout             time.Duration `env:"PUBNUB_CONNECT_TIMEOUT,default=5s"`
	SubscribeTimeout           time.Duration `env:"PUBNUB_SUBSCRIBE_TIMEOUT,default=310s"`
	NonSubscribeRequestTimeout time.Duration `env:"PUBNUB_NON_SUBSCRIBE_REQUEST_TIMEOUT,default=10s"`
	// PresenceTimeout is sent as the heartbeat value on subscribe, in seconds.
	// Zero omits it.
	PresenceTimeout  int    `env:"PUBNUB_PRESENCE_TIMEOUT,default=300"`
	FilterExpression string `env:"PUBNUB_FILTER_EXPRESSION"`

	ReconnectionPolicy  ReconnectionPolicy `env:"PUBNUB_RECONNECTION_POLICY,default=exponential"`
	ReconnectBaseDelay  time.Duration      `env:"PUBNUB_RECONNECT_BASE_DELAY,default=1s"`
	ReconnectMaxDelay   time.Duration      `env:"PUBNUB_RECONNECT_MAX_DELAY,default=32s"`
	ReconnectMultiplier float64            `env:"PUBNUB_RECONNECT_MULTIPLIER,default=2"`
	// FailoverThreshold is the number of consecutive failed polls that rotate the endpoint.
	FailoverThreshold int `env:"PUBNUB_FAILOVER_THRESHOLD,default=3"`
	// MaximumReconnectionRetries bounds consecutive failed polls. Zero or negative is unlimited.
	MaximumReconnectionRetries int `env:"PUBNUB_MAXIMUM_RECONNECTION_RETRIES"`

	SuppressLeaveEvents       bool `env:"PUBNUB_SUPPRESS_LEAVE_EVENTS"`
	IncludeInstanceIdentifier bool `env:"PUBNUB_INCLUDE_INSTANCE_IDENTIFIER"`
	IncludeRequestIdentifier  bool `env:"PUBNUB_INCLUDE_REQUEST_IDENTIFIER,default=true"`

	MaxTransactionalConnsPerHost int `env:"PUBNUB_MAX_TRANSACTIONAL_CONNS_PER_HOST,default=16"`
	MaxSubscribeConnsPerHost     int `env:"PUBNUB_MAX_SUBSCRIBE_CONNS_PER_HOST,default=2"`
}

// NewConfiguration returns a configuration populated with defaults.
func NewConfiguration() *Configuration {
	return &Configuration{
		Secure:                       true,
		ConnectTimeout:               DefaultConnectTimeout,
		SubscribeTimeout:             DefaultSubscribeTimeout,
		NonSubscribeRequestTimeout:   DefaultNonSubscribeRequestTimeout,
		PresenceTimeout:              DefaultPresenceTimeout,
		ReconnectionPolicy:           ReconnectionPolicyExponential,
		ReconnectBaseDelay:           DefaultReconnectBaseDelay,
		ReconnectMaxDelay:            DefaultReconnectMaxDelay,
		ReconnectMultiplier:          DefaultReconnectMultiplier,
		FailoverThreshold:            DefaultFailoverThreshold,
		IncludeRequestIdentifier:     true,
		MaxTransactionalConnsPerHost: DefaultMaxTransactionalConnsPerHost,
		MaxSubscribeConnsPerHost:     DefaultMaxSubscribeConnsPerHost,
	}
}

// ConfigurationFromEnv loads a configuration from PUBNUB_* variables.
func ConfigurationFromEnv() (*Configuration, error) {
	config := &Configuration{}
	if err := envdecode.Decode(config); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, NewError(InvalidArgumentsError, "decode environment", err)
	}
	return config, nil
}

// Clone returns a deep copy.
func (config *Configuration) Clone() *Configuration {
	if config == nil {
		return nil
	}
	cloned := *config
	cloned.Origins = append([]string(nil), config.Origins...)
	return &cloned
}

// normalized fills zero values with defaults and validates the rest.
func (config *Configuration) normalized() (*Configuration, error) {
	if config == nil {
		return nil, NewError(InvalidArgumentsError, "nil configuration")
	}
	normalized := config.Clone()
	if strings.TrimSpace(normalized.UUID) == "" {
		normalized.UUID = "pn-" + uuid.NewString()
	}
	if normalized.ConnectTimeout <= 0 {
		normalized.ConnectTimeout = DefaultConnectTimeout
	}
	if normalized.SubscribeTimeout <= 0 {
		normalized.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if normalized.NonSubscribeRequestTimeout <= 0 {
		normalized.NonSubscribeRequestTimeout = DefaultNonSubscribeRequestTimeout
	}
	if normalized.PresenceTimeout < 0 {
		return nil, NewError(InvalidArgumentsError, "presence timeout must not be negative")
	}
	if normalized.ReconnectBaseDelay < 0 || normalized.ReconnectMaxDelay < 0 {
		return nil, NewError(InvalidArgumentsError, "reconnect delays must not be negative")
	}
	if normalized.ReconnectBaseDelay == 0 {
		normalized.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if normalized.ReconnectMaxDelay == 0 {
		normalized.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if normalized.ReconnectMaxDelay < normalized.ReconnectBaseDelay {
		normalized.ReconnectMaxDelay = normalized.ReconnectBaseDelay
	}
	if normalized.ReconnectMultiplier < 1 {
		normalized.ReconnectMultiplier = DefaultReconnectMultiplier
	}
	if normalized.FailoverThreshold <= 0 {
		normalized.FailoverThreshold = DefaultFailoverThreshold
	}
	if normalized.MaxTransactionalConnsPerHost <= 0 {
		normalized.MaxTransactionalConnsPerHost = DefaultMaxTransactionalConnsPerHost
	}
	if normalized.MaxSubscribeConnsPerHost <= 0 {
		normalized.MaxSubscribeConnsPerHost = DefaultMaxSubscribeConnsPerHost
	}
	return normalized, nil
}
