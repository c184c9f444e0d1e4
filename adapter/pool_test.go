package adapter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-proxy-go/feed"
)

// fakeAdapter 池测试用的最小实现。
type fakeAdapter struct {
	id          int
	state       State
	initErr     error
	connectErr  error
	disconnects atomic.Int32
	onFailed    func(error)
}

func (f *fakeAdapter) Initialize(context.Context) error { return f.initErr }
func (f *fakeAdapter) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = Connected
	return nil
}
func (f *fakeAdapter) Disconnect() error {
	f.disconnects.Add(1)
	f.state = Closed
	return nil
}
func (f *fakeAdapter) Subscribe(context.Context, string, string, feed.Mode, int) (SubscribeResult, error) {
	return SubscribeResult{}, nil
}
func (f *fakeAdapter) Unsubscribe(context.Context, string, string, feed.Mode) error { return nil }
func (f *fakeAdapter) IsConnected() bool                                            { return f.state == Connected }
func (f *fakeAdapter) State() State                                                 { return f.state }
func (f *fakeAdapter) Subscriptions() []string                                      { return nil }
func (f *fakeAdapter) Capabilities() Capabilities                                   { return Capabilities{Broker: "fake"} }

func newTestPool(t *testing.T) (*Pool, *atomic.Int32) {
	t.Helper()
	var built atomic.Int32
	reg := NewRegistry()
	reg.Register("fake", func(deps Deps, userID string) Adapter {
		built.Add(1)
		return &fakeAdapter{id: int(built.Load()), onFailed: deps.OnFailed}
	})
	return NewPool(reg, Deps{}), &built
}

func TestPoolAcquireReuse(t *testing.T) {
	pool, built := newTestPool(t)
	ctx := context.Background()

	a1, err := pool.Acquire(ctx, "user1", "fake")
	require.NoError(t, err)
	a2, err := pool.Acquire(ctx, "user1", "fake")
	require.NoError(t, err)
	assert.Same(t, a1, a2)
	assert.Equal(t, int32(1), built.Load())
	assert.Equal(t, 2, pool.Refs("user1", "fake"))

	// 不同 user 不共享 adapter
	_, err = pool.Acquire(ctx, "user2", "fake")
	require.NoError(t, err)
	assert.Equal(t, int32(2), built.Load())
}

func TestPoolReleaseTeardownAtZero(t *testing.T) {
	pool, _ := newTestPool(t)
	ctx := context.Background()

	a, err := pool.Acquire(ctx, "user1", "fake")
	require.NoError(t, err)
	_, err = pool.Acquire(ctx, "user1", "fake")
	require.NoError(t, err)

	fake := a.(*fakeAdapter)
	pool.Release("user1", "fake")
	assert.Equal(t, int32(0), fake.disconnects.Load(), "teardown before refcount zero")

	pool.Release("user1", "fake")
	assert.Equal(t, int32(1), fake.disconnects.Load())
	assert.Equal(t, 0, pool.Refs("user1", "fake"))
}

func TestPoolFreshAdapterAfterFailure(t *testing.T) {
	pool, built := newTestPool(t)
	ctx := context.Background()

	a1, err := pool.Acquire(ctx, "user1", "fake")
	require.NoError(t, err)

	// 重连预算耗尽：adapter 通过注入的回调通知池
	a1.(*fakeAdapter).onFailed(errors.New("reconnect budget exhausted"))

	a2, err := pool.Acquire(ctx, "user1", "fake")
	require.NoError(t, err)
	assert.NotSame(t, a1, a2)
	assert.Equal(t, int32(2), built.Load())
	assert.Equal(t, Connected, a2.State(), "fresh adapter connects from scratch")
}

func TestPoolReplacementCarriesSurvivingRefs(t *testing.T) {
	pool, built := newTestPool(t)
	ctx := context.Background()

	a1, err := pool.Acquire(ctx, "user1", "fake")
	require.NoError(t, err)
	_, err = pool.Acquire(ctx, "user1", "fake")
	require.NoError(t, err)
	a1.(*fakeAdapter).onFailed(errors.New("reconnect budget exhausted"))

	// 第三个客户端换上新实例，旧持有者的两个引用随条目迁移
	a2, err := pool.Acquire(ctx, "user1", "fake")
	require.NoError(t, err)
	require.NotSame(t, a1, a2)
	assert.Equal(t, int32(2), built.Load())
	assert.Equal(t, 3, pool.Refs("user1", "fake"))

	// 旧持有者归还：替换实例仍被使用，不能被断开
	pool.Release("user1", "fake")
	assert.Equal(t, 2, pool.Refs("user1", "fake"))
	assert.Equal(t, int32(0), a2.(*fakeAdapter).disconnects.Load())

	pool.Release("user1", "fake")
	pool.Release("user1", "fake")
	assert.Equal(t, 0, pool.Refs("user1", "fake"))
	assert.Equal(t, int32(1), a2.(*fakeAdapter).disconnects.Load())
}

func TestPoolFreshAdapterAfterClosed(t *testing.T) {
	pool, built := newTestPool(t)
	ctx := context.Background()

	a1, err := pool.Acquire(ctx, "user1", "fake")
	require.NoError(t, err)
	pool.Release("user1", "fake") // refcount 归零，transport 关闭

	a2, err := pool.Acquire(ctx, "user1", "fake")
	require.NoError(t, err)
	assert.NotSame(t, a1, a2)
	assert.Equal(t, int32(2), built.Load())
}

func TestPoolInitializeFailureIsClean(t *testing.T) {
	reg := NewRegistry()
	reg.Register("bad", func(deps Deps, userID string) Adapter {
		return &fakeAdapter{initErr: errors.New("credential missing")}
	})
	pool := NewPool(reg, Deps{})

	_, err := pool.Acquire(context.Background(), "user1", "bad")
	require.Error(t, err)
	assert.Equal(t, 0, pool.Refs("user1", "bad"))
}

func TestPoolUnknownBroker(t *testing.T) {
	pool, _ := newTestPool(t)
	_, err := pool.Acquire(context.Background(), "user1", "nope")
	assert.ErrorIs(t, err, ErrUnknownBroker)
}

func TestPoolFailureHookCalledOnce(t *testing.T) {
	pool, _ := newTestPool(t)
	var calls atomic.Int32
	pool.SetFailureHook(func(userID, broker string, err error) { calls.Add(1) })

	a, err := pool.Acquire(context.Background(), "user1", "fake")
	require.NoError(t, err)
	a.(*fakeAdapter).onFailed(errors.New("boom"))
	assert.Equal(t, int32(1), calls.Load())
}
