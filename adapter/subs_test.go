package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-proxy-go/feed"
)

var testKey = feed.InstrumentKey{Exchange: "NSE", Token: "2885"}

func TestUnionOfModes(t *testing.T) {
	tbl := NewSubscriptionTable()

	eff, isNew := tbl.Add(testKey, "RELIANCE", "NSE", 5, feed.ModeLTP)
	assert.Equal(t, feed.ModeLTP, eff)
	assert.True(t, isNew)

	eff, isNew = tbl.Add(testKey, "RELIANCE", "NSE", 5, feed.ModeDepth)
	assert.Equal(t, feed.ModeDepth, eff)
	assert.False(t, isNew)

	// 同 mode 第二个客户端
	eff, _ = tbl.Add(testKey, "RELIANCE", "NSE", 5, feed.ModeLTP)
	assert.Equal(t, feed.ModeDepth, eff)

	// 摘掉 DEPTH：union 回落到 LTP
	eff, empty, err := tbl.Remove(testKey, feed.ModeDepth)
	require.NoError(t, err)
	assert.False(t, empty)
	assert.Equal(t, feed.ModeLTP, eff)

	// LTP 还有两个引用，摘一个不清空
	_, empty, err = tbl.Remove(testKey, feed.ModeLTP)
	require.NoError(t, err)
	assert.False(t, empty)

	// 最后一个引用：union 清空，条目删除
	_, empty, err = tbl.Remove(testKey, feed.ModeLTP)
	require.NoError(t, err)
	assert.True(t, empty)
	assert.Equal(t, 0, tbl.Count())
}

func TestRemoveNotSubscribed(t *testing.T) {
	tbl := NewSubscriptionTable()
	_, _, err := tbl.Remove(testKey, feed.ModeLTP)
	assert.ErrorIs(t, err, ErrNotSubscribed)

	tbl.Add(testKey, "RELIANCE", "NSE", 5, feed.ModeQuote)
	_, _, err = tbl.Remove(testKey, feed.ModeDepth)
	assert.ErrorIs(t, err, ErrNotSubscribed)
}

func TestAllSortedAndTopics(t *testing.T) {
	tbl := NewSubscriptionTable()
	tbl.Add(feed.InstrumentKey{Exchange: "NSE", Token: "5633"}, "TCS", "NSE", 5, feed.ModeQuote)
	tbl.Add(feed.InstrumentKey{Exchange: "NSE", Token: "2885"}, "RELIANCE", "NSE", 5, feed.ModeLTP)

	all := tbl.All()
	require.Len(t, all, 2)
	assert.Equal(t, "2885", all[0].Key.Token)
	assert.Equal(t, "5633", all[1].Key.Token)

	topics := tbl.Topics()
	assert.Equal(t, []string{"NSE_RELIANCE_LTP", "NSE_TCS_QUOTE"}, topics)
}

func TestDepthUpgradeKept(t *testing.T) {
	tbl := NewSubscriptionTable()
	tbl.Add(testKey, "RELIANCE", "NSE", 5, feed.ModeDepth)
	tbl.Add(testKey, "RELIANCE", "NSE", 20, feed.ModeDepth)
	all := tbl.All()
	require.Len(t, all, 1)
	assert.Equal(t, 20, all[0].Depth)
}
