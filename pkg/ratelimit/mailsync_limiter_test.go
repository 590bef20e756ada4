package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeScripter struct {
	result int64
	err    error
	keys   []string
	args   []interface{}
}

func (f *fakeScripter) reply(keys []string, args []interface{}) *redis.Cmd {
	f.keys, f.args = keys, args
	return redis.NewCmdResult(f.result, f.err)
}

func (f *fakeScripter) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.reply(keys, args)
}

func (f *fakeScripter) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.reply(keys, args)
}

func (f *fakeScripter) EvalRO(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.reply(keys, args)
}

func (f *fakeScripter) EvalShaRO(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.reply(keys, args)
}

func (f *fakeScripter) ScriptExists(context.Context, ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (f *fakeScripter) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func TestRedisLimiter(t *testing.T) {
	tests := []struct {
		name      string
		result    int64
		err       error
		wantAllow bool
		wantWait  time.Duration
	}{
		{"allowed", 1, nil, true, 0},
		{"refused with wait", -1500, nil, false, 1500 * time.Millisecond},
		{"refused without oldest", 0, nil, false, time.Minute},
		{"redis down allows", 0, errors.New("connection refused"), true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeScripter{result: tt.result, err: tt.err}
			l := NewSlidingWindowLimiter(client, 5, time.Minute)

			ok, wait := l.Allow(context.Background(), "Bob@Gmail.com")
			require.Equal(t, tt.wantAllow, ok)
			require.Equal(t, tt.wantWait, wait)
			require.Equal(t, []string{"mailsync:ratelimit:bob@gmail.com"}, client.keys)
			require.Equal(t, 5, client.args[2])
		})
	}
}

func TestLocalLimiter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewSlidingWindowLimiter(nil, 2, time.Minute)
	l.now = func() time.Time { return now }

	ok, _ := l.Allow(context.Background(), "bob@gmail.com")
	require.True(t, ok)

	now = now.Add(10 * time.Second)
	ok, _ = l.Allow(context.Background(), "bob@gmail.com")
	require.True(t, ok)

	ok, wait := l.Allow(context.Background(), "bob@gmail.com")
	require.False(t, ok)
	require.Equal(t, 50*time.Second, wait)

	ok, _ = l.Allow(context.Background(), "alice@gmail.com")
	require.True(t, ok)

	now = now.Add(51 * time.Second)
	ok, _ = l.Allow(context.Background(), "bob@gmail.com")
	require.True(t, ok)
}

func TestDisabledLimiter(t *testing.T) {
	l := NewSlidingWindowLimiter(nil, 0, time.Minute)
	for i := 0; i < 10; i++ {
		ok, _ := l.Allow(context.Background(), "bob@gmail.com")
		require.True(t, ok)
	}
}
