package forum

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  BackoffPolicy
		wantErr bool
	}{
		{"default", DefaultBackoffPolicy(), false},
		{"zero attempts", BackoffPolicy{MaxAttempts: 0}, true},
		{"negative delay", BackoffPolicy{MaxAttempts: 1, BaseDelay: -time.Second}, true},
		{"jitter too large", BackoffPolicy{MaxAttempts: 1, Jitter: 1.5}, true},
		{"single attempt", BackoffPolicy{MaxAttempts: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBackoffPolicy_RateLimitDelay(t *testing.T) {
	p := DefaultBackoffPolicy()
	assert.Equal(t, 10*time.Second, p.RateLimitDelay(1, 0, nil))
	assert.Equal(t, 20*time.Second, p.RateLimitDelay(2, 0, nil))
	assert.Equal(t, 30*time.Second, p.RateLimitDelay(3, 0, nil))
	assert.Equal(t, 45*time.Second, p.RateLimitDelay(1, 45*time.Second, nil))

	p.Jitter = 0.5
	rng := rand.New(rand.NewPCG(1, 2))
	for attempt := 1; attempt <= 5; attempt++ {
		d := p.RateLimitDelay(attempt, 0, rng)
		base := p.BaseDelay * time.Duration(attempt)
		assert.GreaterOrEqual(t, d, base)
		assert.Less(t, d, base+base/2+1)
	}
}
