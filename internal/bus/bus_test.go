package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/universal-registry/internal/registry"
)

func change(kind registry.ChangeKind, id string, category registry.Category) registry.Change {
	return registry.Change{
		Kind:    kind,
		Entry:   &registry.Entry{ID: id, Category: category},
		AtEpoch: time.Now().Unix(),
	}
}

func TestSubscribeFiltersByEntryID(t *testing.T) {
	b := New(8)
	sub := b.Subscribe(Filter{EntryID: "e1"})
	defer b.Unsubscribe(sub)

	b.Publish(context.Background(), change(registry.ChangeCreated, "e1", registry.CategoryPlugin))
	b.Publish(context.Background(), change(registry.ChangeCreated, "e2", registry.CategoryPlugin))

	d, ok := WaitForDelivery(context.Background(), sub, time.Second)
	require.True(t, ok)
	require.Equal(t, "e1", d.Change.Entry.ID)

	_, ok = WaitForDelivery(context.Background(), sub, 50*time.Millisecond)
	require.False(t, ok, "should not receive the non-matching entry")
}

func TestSubscribeFiltersByCategory(t *testing.T) {
	b := New(8)
	sub := b.Subscribe(Filter{Category: registry.CategoryAgent})
	defer b.Unsubscribe(sub)

	b.Publish(context.Background(), change(registry.ChangeCreated, "a1", registry.CategoryAgent))
	b.Publish(context.Background(), change(registry.ChangeCreated, "p1", registry.CategoryPlugin))

	d, ok := WaitForDelivery(context.Background(), sub, time.Second)
	require.True(t, ok)
	require.Equal(t, "a1", d.Change.Entry.ID)
}

func TestDeliveriesCarryIncreasingSequenceIDs(t *testing.T) {
	b := New(8)
	sub := b.Subscribe(Filter{EntryID: "e1"})
	defer b.Unsubscribe(sub)

	for i := 0; i < 3; i++ {
		b.Publish(context.Background(), change(registry.ChangeUpdated, "e1", registry.CategoryPlugin))
	}

	var last int64
	for i := 0; i < 3; i++ {
		d, ok := WaitForDelivery(context.Background(), sub, time.Second)
		require.True(t, ok)
		require.Greater(t, d.SequenceID, last)
		last = d.SequenceID
	}
}

func TestBoundedInboxDropsOldest(t *testing.T) {
	b := New(2)
	sub := b.Subscribe(Filter{EntryID: "e1"})
	defer b.Unsubscribe(sub)

	// Fill the inbox without draining it so the third publish must drop-oldest.
	for i := 0; i < 3; i++ {
		b.Publish(context.Background(), change(registry.ChangeUpdated, "e1", registry.CategoryPlugin))
	}

	first, ok := WaitForDelivery(context.Background(), sub, time.Second)
	require.True(t, ok)
	require.Equal(t, int64(2), first.SequenceID, "the first delivery should have been dropped")

	second, ok := WaitForDelivery(context.Background(), sub, time.Second)
	require.True(t, ok)
	require.Equal(t, int64(3), second.SequenceID)

	_, ok = WaitForDelivery(context.Background(), sub, 50*time.Millisecond)
	require.False(t, ok)
}

func TestUnsubscribeClosesInbox(t *testing.T) {
	b := New(8)
	sub := b.Subscribe(Filter{EntryID: "e1"})
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub.Inbox()
	require.False(t, ok, "inbox channel should be closed")
}

func TestFilterByFacets(t *testing.T) {
	b := New(8)
	sub := b.Subscribe(Filter{Facets: map[string][]string{"domain": {"vision"}}})
	defer b.Unsubscribe(sub)

	match := change(registry.ChangeCreated, "e1", registry.CategoryPlugin)
	match.Entry.Config = map[string]interface{}{
		"facets": map[string]interface{}{"domain": []interface{}{"vision", "ml"}},
	}
	noMatch := change(registry.ChangeCreated, "e2", registry.CategoryPlugin)
	noMatch.Entry.Config = map[string]interface{}{
		"facets": map[string]interface{}{"domain": []interface{}{"audio"}},
	}

	b.Publish(context.Background(), match)
	b.Publish(context.Background(), noMatch)

	d, ok := WaitForDelivery(context.Background(), sub, time.Second)
	require.True(t, ok)
	require.Equal(t, "e1", d.Change.Entry.ID)

	_, ok = WaitForDelivery(context.Background(), sub, 50*time.Millisecond)
	require.False(t, ok)
}
