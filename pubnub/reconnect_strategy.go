package pubnub

import "time"

// ReconnectDelayStrategy maps the number of consecutive failed polls since
// the last successful one to the wait before the next poll. attempt starts
// at 1. Failing over to another origin does not restart the count.
type ReconnectDelayStrategy interface {
	RetryDelay(attempt int) time.Duration
}

// ConstantBackoff waits Delay before every retry.
type ConstantBackoff struct {
	Delay time.Duration
}

// RetryDelay returns Delay, or zero when it is negative.
func (backoff ConstantBackoff) RetryDelay(int) time.Duration {
	return max(backoff.Delay, 0)
}

// ExponentialBackoff waits Base after the first failure and multiplies the
// wait by Multiplier for each further failure, never exceeding Max.
type ExponentialBackoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// NewExponentialBackoff fills zero or invalid values with the package defaults.
func NewExponentialBackoff(base time.Duration, maximum time.Duration, multiplier float64) ExponentialBackoff {
	if base <= 0 {
		base = DefaultReconnectBaseDelay
	}
	if maximum <= 0 {
		maximum = DefaultReconnectMaxDelay
	}
	if multiplier < 1 {
		multiplier = DefaultReconnectMultiplier
	}
	return ExponentialBackoff{Base: base, Max: max(maximum, base), Multiplier: multiplier}
}

// RetryDelay returns min(Base*Multiplier^(attempt-1), Max).
func (backoff ExponentialBackoff) RetryDelay(attempt int) time.Duration {
	delay := float64(max(backoff.Base, 0))
	ceiling := float64(max(backoff.Max, backoff.Base))
	for step := 1; step < attempt && delay < ceiling; step++ {
		delay *= backoff.Multiplier
	}
	return time.Duration(min(delay, ceiling))
}

func strategyForConfiguration(config *Configuration) ReconnectDelayStrategy {
	if config.ReconnectionPolicy == ReconnectionPolicyLinear {
		return ConstantBackoff{Delay: config.ReconnectBaseDelay}
	}
	return NewExponentialBackoff(config.ReconnectBaseDelay, config.ReconnectMaxDelay, config.ReconnectMultiplier)
}
