package pool

import (
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/backoff"

	"github.com/eleven-am/crosslink/internal/domain"
)

// exponentialBackoff follows the gRPC connection backoff: the delay grows
// by Multiplier up to MaxDelay and is then randomized by +/- Jitter.
type exponentialBackoff struct {
	config  backoff.Config
	retries int
}

func backoffConfig(c domain.ReconnectConfig) backoff.Config {
	return backoff.Config{
		BaseDelay:  c.InitialBackoff,
		Multiplier: c.Multiplier,
		Jitter:     c.Jitter,
		MaxDelay:   c.MaxBackoff,
	}
}

func newBackoff(c domain.ReconnectConfig) *exponentialBackoff {
	return &exponentialBackoff{config: backoffConfig(c)}
}

func (b *exponentialBackoff) Next() time.Duration {
	delay := b.delay(b.retries)
	b.retries++
	return delay
}

func (b *exponentialBackoff) delay(retries int) time.Duration {
	base, limit := float64(b.config.BaseDelay), float64(b.config.MaxDelay)
	for base < limit && retries > 0 {
		base *= b.config.Multiplier
		retries--
	}
	if base > limit {
		base = limit
	}
	base *= 1 + b.config.Jitter*(rand.Float64()*2-1)
	if base < 0 {
		return 0
	}
	return time.Duration(base)
}
