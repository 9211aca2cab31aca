package promise_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws/promise"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDeferred_FirstSettlementWins(t *testing.T) {
	d := promise.New[string]()
	require.True(t, d.IsPending())

	require.True(t, d.Resolve("first"))
	require.False(t, d.Resolve("second"))
	require.False(t, d.Reject(errors.New("late")))

	v, err := d.Result()
	require.NoError(t, err)
	require.Equal(t, "first", v)
	require.Equal(t, promise.Fulfilled, d.Status())
}

func TestDeferred_RejectNilError(t *testing.T) {
	d := promise.New[int]()
	d.Reject(nil)

	_, err := d.Result()
	require.ErrorIs(t, err, promise.ErrNoError)
	require.Equal(t, promise.Rejected, d.Status())
}

func TestDeferred_ResultWhilePending(t *testing.T) {
	_, err := promise.New[int]().Result()
	require.ErrorIs(t, err, promise.ErrPending)
}

func TestDeferred_Timeout(t *testing.T) {
	d := promise.New[int]().WithTimeout(20*time.Millisecond, "too slow")

	start := time.Now()
	_, err := d.Wait(context.Background())

	require.ErrorIs(t, err, promise.ErrTimeout)
	require.EqualError(t, err, "too slow")
	require.Less(t, time.Since(start), time.Second)

	var te *promise.TimeoutError
	require.ErrorAs(t, err, &te)
	require.Equal(t, 20*time.Millisecond, te.Timeout)
}

func TestDeferred_TimeoutDefaultReason(t *testing.T) {
	err := (&promise.TimeoutError{Timeout: 50 * time.Millisecond}).Error()
	require.Equal(t, "promise rejected by timeout (50 ms)", err)
}

func TestDeferred_SettleBeforeTimeout(t *testing.T) {
	d := promise.New[int]().WithTimeout(30*time.Millisecond, "")
	require.True(t, d.Resolve(7))

	time.Sleep(60 * time.Millisecond)

	v, err := d.Result()
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestDeferred_ZeroTimeoutIsUnlimited(t *testing.T) {
	d := promise.New[int]().WithTimeout(0, "")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := d.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, d.IsPending())
}

func TestDeferred_CallRoutesErrors(t *testing.T) {
	boom := errors.New("boom")

	d := promise.New[int]().Call(func() error { return boom })
	_, err := d.Result()
	require.ErrorIs(t, err, boom)

	d = promise.New[int]().Call(func() error { panic("kaput") })
	_, err = d.Result()
	require.ErrorIs(t, err, promise.ErrPanic)
	require.Contains(t, err.Error(), "kaput")

	d = promise.New[int]().Call(func() error { return nil })
	require.True(t, d.IsPending())
}

func TestDeferred_CallReturnsSelfOnPanic(t *testing.T) {
	d := promise.New[string]()

	got := d.Call(func() error { panic(errors.New("nil map")) })
	require.Same(t, d, got)

	_, err := got.Wait(context.Background())
	require.ErrorIs(t, err, promise.ErrPanic)
	require.Contains(t, err.Error(), "nil map")
}

func TestCatch(t *testing.T) {
	require.NoError(t, promise.Catch(func() error { return nil }))

	boom := errors.New("boom")
	require.ErrorIs(t, promise.Catch(func() error { return boom }), boom)

	err := promise.Catch(func() error {
		var m map[string]int
		m["x"] = 1
		return nil
	})
	require.ErrorIs(t, err, promise.ErrPanic)
}

func TestDeferred_Finally(t *testing.T) {
	var calls []string

	d := promise.New[int]()
	d.Finally(func() { calls = append(calls, "a") })
	d.Finally(func() { calls = append(calls, "b") })
	require.Empty(t, calls)

	d.Reject(errors.New("x"))
	require.Equal(t, []string{"a", "b"}, calls)

	d.Finally(func() { calls = append(calls, "c") })
	require.Equal(t, []string{"a", "b", "c"}, calls)
}

func TestDeferred_SharedWaiters(t *testing.T) {
	d := promise.New[string]()

	results := make(chan string, 3)
	for range 3 {
		go func() {
			v, _ := d.Wait(context.Background())
			results <- v
		}()
	}

	d.Resolve("shared")

	for range 3 {
		select {
		case v := <-results:
			require.Equal(t, "shared", v)
		case <-time.After(time.Second):
			t.Fatal("waiter was not released")
		}
	}
}

func TestResolvedAndFailed(t *testing.T) {
	v, err := promise.Resolved(3).Result()
	require.NoError(t, err)
	require.Equal(t, 3, v)

	_, err = promise.Failed[int](context.Canceled).Result()
	require.ErrorIs(t, err, context.Canceled)
}
