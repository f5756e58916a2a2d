package collection

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/channel"
	"github.com/fjod/go_cart/cart-sync/internal/domain"
	"github.com/fjod/go_cart/cart-sync/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamePageInstancesConverge(t *testing.T) {
	s := newCountingStorage()
	page := newRecordingChannel(t)
	a := openCart(t, cartOptions(s, page, nil))
	b := openCart(t, cartOptions(s, page, nil))

	a.Add(context.Background(), tee, "M", "red", 2)

	require.Eventually(t, func() bool { return b.Count() == 2 }, waitFor, tick)
	assert.Equal(t, a.Items(), b.Items())
}

func TestReconciliationDoesNotRebroadcast(t *testing.T) {
	s := newCountingStorage()
	page := newRecordingChannel(t)
	shared := newRecordingChannel(t)
	a := openCart(t, cartOptions(s, page, shared))
	b := openCart(t, cartOptions(s, page, shared))
	c := openCart(t, cartOptions(s, page, shared))

	var bViews viewRecorder[CartView]
	b.Subscribe(bViews.record)

	ctx := context.Background()
	a.Add(ctx, tee, "M", "red", 1)
	a.Add(ctx, hoodie, "L", "black", 1)

	require.Eventually(t, func() bool {
		return b.Count() == 2 && c.Count() == 2
	}, waitFor, tick)

	// Give any echo a chance to show up
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 2, s.Writes(), "one write per local mutation, none per reconciliation")
	assert.Len(t, page.Published(), 2)
	assert.Len(t, shared.Published(), 2)
	for _, e := range append(page.Published(), shared.Published()...) {
		assert.Equal(t, a.Origin(), e.Origin)
	}

	// Each snapshot reached b over two channels but was observed once
	got := bViews.all()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Count)
	assert.Equal(t, 2, got[1].Count)
}

func TestCrossProcessInstancesConverge(t *testing.T) {
	// Each process has its own page channel; only the shared channel and storage connect them.
	s := newCountingStorage()
	shared := newRecordingChannel(t)
	pageA := newRecordingChannel(t)
	pageB := newRecordingChannel(t)

	a := openWishlist(t, Options{Key: "wishlist", Storage: s, Page: pageA, Shared: shared})
	b := openWishlist(t, Options{Key: "wishlist", Storage: s, Page: pageB, Shared: shared})

	var views viewRecorder[WishlistView]
	b.Subscribe(views.record)

	a.Add(context.Background(), tee, domain.Selection{Size: "M"})
	require.Eventually(t, func() bool { return b.Contains(tee.ID) }, waitFor, tick)

	b.RemoveProduct(context.Background(), tee.ID)
	require.Eventually(t, func() bool { return !a.Contains(tee.ID) }, waitFor, tick)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, s.Writes())
	require.Len(t, pageB.Published(), 1)
	assert.JSONEq(t, `[]`, string(pageB.Published()[0].Value))
	assert.Equal(t, 2, views.len())
}

func TestReconcile_DiscardsMalformedPayload(t *testing.T) {
	s := newCountingStorage()
	page := newRecordingChannel(t)
	c := openCart(t, cartOptions(s, page, nil))
	c.Add(context.Background(), tee, "M", "red", 2)

	var views viewRecorder[CartView]
	c.Subscribe(views.record)

	ctx := context.Background()
	for _, raw := range []string{`not-json`, `{"id":"1-M-red"}`, `null`, `"[]"`, ``} {
		require.NoError(t, page.Bus.Publish(ctx, channel.Event{Key: "cart", Origin: "other-tab", Value: json.RawMessage(raw)}))
	}
	// A valid event after the malformed ones proves they were all processed
	valid := `[{"id":"2-L-black","productId":2,"name":"Hoodie","price":25,"quantity":1}]`
	require.NoError(t, page.Bus.Publish(ctx, channel.Event{Key: "cart", Origin: "other-tab", Value: json.RawMessage(valid)}))

	require.Eventually(t, func() bool { return views.len() == 1 }, waitFor, tick)
	assert.Equal(t, 1, c.Count())
	assert.Equal(t, "2-L-black", c.Items()[0].ID)
	assert.Equal(t, 1, s.Writes(), "reconciliation must not write")
}

func TestReconcile_IgnoresOtherKeysAndOwnEvents(t *testing.T) {
	page := newRecordingChannel(t)
	c := openCart(t, cartOptions(storage.NewMemoryStorage(0), page, nil))

	var views viewRecorder[CartView]
	c.Subscribe(views.record)

	ctx := context.Background()
	value := json.RawMessage(`[{"id":"1-M-red","productId":1,"quantity":4}]`)
	require.NoError(t, page.Bus.Publish(ctx, channel.Event{Key: "wishlist", Origin: "other-tab", Value: value}))
	require.NoError(t, page.Bus.Publish(ctx, channel.Event{Key: "cart", Origin: c.Origin(), Value: value}))
	require.NoError(t, page.Bus.Publish(ctx, channel.Event{Key: "cart", Origin: "other-tab", Value: json.RawMessage(`[]`)}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, views.len(), "an empty snapshot matching local state is not a change")
	assert.Equal(t, 0, c.Count())
}

func TestReconcile_LastWriteWins(t *testing.T) {
	page := newRecordingChannel(t)
	c := openCart(t, cartOptions(storage.NewMemoryStorage(0), page, nil))

	ctx := context.Background()
	for q := 1; q <= 20; q++ {
		value, err := json.Marshal([]domain.CartItem{domain.NewCartItem(tee, "M", "red", q)})
		require.NoError(t, err)
		require.NoError(t, page.Bus.Publish(ctx, channel.Event{Key: "cart", Origin: "other-tab", Value: value, Count: q}))
	}

	require.Eventually(t, func() bool { return c.Count() == 20 }, waitFor, tick)
}

func TestReconcile_LocalMutationAfterExternalApplyStillPersists(t *testing.T) {
	s := newCountingStorage()
	page := newRecordingChannel(t)
	c := openCart(t, cartOptions(s, page, nil))

	ctx := context.Background()
	for q := 1; q <= 5; q++ {
		value, err := json.Marshal([]domain.CartItem{domain.NewCartItem(tee, "M", "red", q)})
		require.NoError(t, err)
		require.NoError(t, page.Bus.Publish(ctx, channel.Event{Key: "cart", Origin: "other-tab", Value: value}))
	}
	require.Eventually(t, func() bool { return c.Count() == 5 }, waitFor, tick)

	c.Add(ctx, hoodie, "L", "black", 1)

	assert.Equal(t, 1, s.Writes())
	published := page.Published()
	require.NotEmpty(t, published)
	last := published[len(published)-1]
	assert.Equal(t, c.Origin(), last.Origin)
	assert.Equal(t, 6, last.Count)
}

func TestDerivedViewsFollowReconciliation(t *testing.T) {
	s := storage.NewMemoryStorage(0)
	page := newRecordingChannel(t)
	writer := openCart(t, cartOptions(s, page, nil))
	reader := openCart(t, cartOptions(s, page, nil))

	var totals viewRecorder[Totals]
	reader.Subscribe(func(v CartView) { totals.record(v.Totals) })

	ctx := context.Background()
	writer.Add(ctx, tee, "M", "red", 2)
	writer.Add(ctx, hoodie, "L", "black", 1)

	require.Eventually(t, func() bool { return totals.len() == 2 }, waitFor, tick)
	last := totals.all()[1]
	assert.Equal(t, "45.00", last.Subtotal.StringFixed(2))
	assert.Equal(t, "58.59", reader.Totals().Total.StringFixed(2))
}

func TestReconcile_StaleSequenceIgnored(t *testing.T) {
	page := newRecordingChannel(t)
	c := openCart(t, cartOptions(storage.NewMemoryStorage(0), page, nil))

	ctx := context.Background()
	newer, err := json.Marshal([]domain.CartItem{domain.NewCartItem(tee, "M", "red", 2)})
	require.NoError(t, err)
	older, err := json.Marshal([]domain.CartItem{domain.NewCartItem(tee, "M", "red", 1)})
	require.NoError(t, err)

	require.NoError(t, page.Bus.Publish(ctx, channel.Event{Key: "cart", Origin: "other-tab", Seq: 2, Value: newer}))
	require.NoError(t, page.Bus.Publish(ctx, channel.Event{Key: "cart", Origin: "other-tab", Seq: 1, Value: older}))
	require.NoError(t, page.Bus.Publish(ctx, channel.Event{Key: "cart", Origin: "other-tab", Seq: 2, Value: older}))
	// Another instance's first commit still applies
	require.NoError(t, page.Bus.Publish(ctx, channel.Event{Key: "cart", Origin: "third-tab", Seq: 1, Value: older}))

	require.Eventually(t, func() bool { return c.Count() == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.Count())
}
