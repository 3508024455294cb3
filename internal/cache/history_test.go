package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpane/internal/store"
	"github.com/nhle/mailpane/internal/testutil"
)

func TestHistory_AppendAndList(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(t0)
	h := NewHistory(store.NewMemoryKV(), 0, Options{Now: clock.Now})

	first, err := h.Append(ctx, HistoryEntry{EmailIdentity: "a", Action: "reply", Text: "one"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.Equal(t, t0.UnixMilli(), first.TimestampMs)

	clock.Advance(time.Minute)
	_, err = h.Append(ctx, HistoryEntry{EmailIdentity: "b", Text: "other"})
	require.NoError(t, err)
	_, err = h.Append(ctx, HistoryEntry{EmailIdentity: "a", Text: "two"})
	require.NoError(t, err)

	list := h.List(ctx, "a")
	require.Len(t, list, 2)
	require.Equal(t, "two", list[0].Text)
	require.Equal(t, "one", list[1].Text)
	require.Len(t, h.All(ctx), 3)
}

func TestHistory_TruncatesToLimit(t *testing.T) {
	ctx := context.Background()
	h := NewHistory(store.NewMemoryKV(), 5, Options{})

	for i := range 8 {
		_, err := h.Append(ctx, HistoryEntry{EmailIdentity: "a", Text: fmt.Sprint(i)})
		require.NoError(t, err)
	}

	all := h.All(ctx)
	require.Len(t, all, 5)
	require.Equal(t, "3", all[0].Text)
	require.Equal(t, "7", all[4].Text)
}

func TestHistory_DefaultLimit(t *testing.T) {
	ctx := context.Background()
	h := NewHistory(store.NewMemoryKV(), 0, Options{})

	for i := range DefaultHistoryLimit + 10 {
		_, err := h.Append(ctx, HistoryEntry{EmailIdentity: "a", Text: fmt.Sprint(i)})
		require.NoError(t, err)
	}
	require.Len(t, h.All(ctx), DefaultHistoryLimit)
}

func TestHistory_DropsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(t0)
	h := NewHistory(store.NewMemoryKV(), 0, Options{Now: clock.Now, Retention: time.Hour})

	_, err := h.Append(ctx, HistoryEntry{EmailIdentity: "a", Text: "old"})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = h.Append(ctx, HistoryEntry{EmailIdentity: "a", Text: "new"})
	require.NoError(t, err)

	all := h.All(ctx)
	require.Len(t, all, 1)
	require.Equal(t, "new", all[0].Text)

	require.NoError(t, h.Clear(ctx))
	require.Empty(t, h.All(ctx))
}

func TestHistory_BrokenStorage(t *testing.T) {
	h := NewHistory(testutil.BrokenKV{}, 0, Options{})
	_, err := h.Append(context.Background(), HistoryEntry{EmailIdentity: "a"})
	require.ErrorIs(t, err, testutil.ErrBroken)
	require.Empty(t, h.All(context.Background()))
}
