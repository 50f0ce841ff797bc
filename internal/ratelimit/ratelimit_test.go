package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-guard/ai-guard/internal/db/models"
)

func projectWithMembers(n int) *models.Project {
	p := &models.Project{}
	for i := 0; i < n; i++ {
		p.Members = append(p.Members, models.Member{UserID: string(rune('a' + i))})
	}
	return p
}

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		name    string
		project *models.Project
		want    int
	}{
		{"nil project gets free tier", nil, FreeLimit},
		{"single member is free", projectWithMembers(1), FreeLimit},
		{"two members is pro", projectWithMembers(2), ProLimit},
		{"five members is pro", projectWithMembers(5), ProLimit},
		{"six members is enterprise", projectWithMembers(6), EnterpriseLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PolicyFor(tt.project)
			assert.Equal(t, tt.want, p.Limit)
			assert.Equal(t, Window, p.Window)
		})
	}

	t.Run("project override wins over tier", func(t *testing.T) {
		p := projectWithMembers(6)
		p.Settings.RateLimit = &models.RateLimitOverride{RequestsPerMinute: 42}
		assert.Equal(t, 42, PolicyFor(p).Limit)
	})
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "ratelimit:user:u1", KeyFor("u1", "1.2.3.4"))
	assert.Equal(t, "ratelimit:ip:1.2.3.4", KeyFor("", "1.2.3.4"))
}

func TestLocalLimiterWindow(t *testing.T) {
	l := NewLocalLimiter()
	defer l.Stop()

	policy := Policy{Limit: 3, Window: 100 * time.Millisecond}
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(ctx, "k", policy)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d within limit", i)
		assert.Equal(t, 3-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "k", policy)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "fourth request in window is denied")
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 3, d.Limit)

	// A fresh window admits again.
	time.Sleep(120 * time.Millisecond)
	d, err = l.Allow(ctx, "k", policy)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLocalLimiterKeysIndependent(t *testing.T) {
	l := NewLocalLimiter()
	defer l.Stop()

	policy := Policy{Limit: 1, Window: time.Minute}
	ctx := context.Background()

	d1, _ := l.Allow(ctx, "ratelimit:user:a", policy)
	d2, _ := l.Allow(ctx, "ratelimit:user:b", policy)
	assert.True(t, d1.Allowed)
	assert.True(t, d2.Allowed)

	d3, _ := l.Allow(ctx, "ratelimit:user:a", policy)
	assert.False(t, d3.Allowed)
}

func TestLocalLimiterConcurrent(t *testing.T) {
	l := NewLocalLimiter()
	defer l.Stop()

	policy := Policy{Limit: 50, Window: time.Minute}
	ctx := context.Background()

	const workers = 100
	var wg sync.WaitGroup
	allowed := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "hot", policy)
			require.NoError(t, err)
			allowed <- d.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for a := range allowed {
		if a {
			count++
		}
	}
	assert.Equal(t, 50, count, "exactly the limit is admitted under contention")
}

func TestLocalLimiterResetAt(t *testing.T) {
	l := NewLocalLimiter()
	defer l.Stop()

	before := time.Now()
	d, err := l.Allow(context.Background(), "k", Policy{Limit: 10, Window: time.Minute})
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(time.Minute), d.ResetAt, time.Second)
}
