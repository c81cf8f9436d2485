package util

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/real-rm/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", nil},
		{"missing", "", "", ErrMissingAuthHeader},
		{"no prefix", "abc.def.ghi", "", ErrInvalidAuthHeader},
		{"lowercase prefix", "bearer abc", "", ErrInvalidAuthHeader},
		{"prefix only", "Bearer ", "", ErrInvalidAuthHeader},
		{"whitespace token", "Bearer    ", "", ErrInvalidAuthHeader},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", ErrInvalidAuthHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainsWeakPattern(t *testing.T) {
	found, pattern := ContainsWeakPattern("MySecretKey", []string{"secret", "password"})
	assert.True(t, found)
	assert.Equal(t, "secret", pattern)

	found, _ = ContainsWeakPattern("k8s-3f9a1c7e0b2d4a6f8e1c3b5d7f9a0c2e", []string{"secret"})
	assert.False(t, found)
}

func TestNewTimeoutContext(t *testing.T) {
	ctx, cancel := NewTimeoutContext(50 * time.Millisecond)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 20*time.Millisecond)

	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestNewDefaultTimeoutContext(t *testing.T) {
	ctx, cancel := NewDefaultTimeoutContext()
	defer cancel()

	_, ok := ctx.Deadline()
	assert.True(t, ok)
}

func TestConnectionIDContext(t *testing.T) {
	assert.Equal(t, "", ConnectionIDFromContext(context.Background()))

	ctx := ContextWithConnectionID(context.Background(), "conn-1")
	assert.Equal(t, "conn-1", ConnectionIDFromContext(ctx))
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	logger, err := golog.InitLog(golog.LogConfig{Dir: t.TempDir(), Level: "error", StandardOutput: false})
	require.NoError(t, err)
	defer logger.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	SafeGo(logger, "test", func() {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()

	ran := make(chan struct{})
	SafeGo(logger, "test", func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not run the function")
	}
}

func TestLogError_DoesNotPanic(t *testing.T) {
	logger, err := golog.InitLog(golog.LogConfig{Dir: t.TempDir(), Level: "error", StandardOutput: false})
	require.NoError(t, err)
	defer logger.Close()

	assert.NotPanics(t, func() {
		LogError(logger, "storage", "insert message", errors.New("boom"), "room_id", int64(1))
	})
}

func TestJSONHelpers(t *testing.T) {
	data, err := MarshalJSON(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	_, err = MarshalJSON(make(chan int))
	assert.ErrorContains(t, err, "JSON marshal error")

	var out map[string]int
	require.NoError(t, UnmarshalJSON(data, &out))
	assert.Equal(t, 1, out["a"])
	assert.ErrorContains(t, UnmarshalJSON([]byte("{"), &out), "JSON unmarshal error")
}

func TestValidationHelpers(t *testing.T) {
	assert.NoError(t, ValidateRange(5, 1, 10, "n"))
	assert.Error(t, ValidateRange(0, 1, 10, "n"))
	assert.Error(t, ValidateRange(11, 1, 10, "n"))

	assert.Error(t, ValidateMinLength("short", 32, "secret"))
	assert.NoError(t, ValidatePositive(1, "n"))
	assert.Error(t, ValidatePositive(0, "n"))
}

func TestParsePositiveID(t *testing.T) {
	id, err := ParsePositiveID(" 42 ", "chatRoomId")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "abc", "0", "-3", "1.5", "99999999999999999999"} {
		_, err := ParsePositiveID(raw, "chatRoomId")
		assert.Error(t, err, "expected error for %q", raw)
	}
}
