package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fare/internal/domain"
)

func TestChannelSubscription_DropsStaleSamples(t *testing.T) {
	sub := NewChannelSubscription(context.Background(), DefaultProviderOptions(0), nil)
	defer sub.Cancel()

	assert.True(t, sub.Deliver(domain.LocationSample{Latitude: 1, Longitude: 1, TimestampMillis: 100}))
	assert.False(t, sub.Deliver(domain.LocationSample{Latitude: 1, Longitude: 1, TimestampMillis: 100}))
	assert.False(t, sub.Deliver(domain.LocationSample{Latitude: 1, Longitude: 1, TimestampMillis: 50}))
	assert.True(t, sub.Deliver(domain.LocationSample{Latitude: 1, Longitude: 1, TimestampMillis: 101}))

	assert.Len(t, sub.Samples(), 2)
}

func TestChannelSubscription_MaximumAgeAllowsOlder(t *testing.T) {
	opts := ProviderOptions{HighAccuracy: true, MaximumAge: time.Second}
	sub := NewChannelSubscription(context.Background(), opts, nil)
	defer sub.Cancel()

	assert.True(t, sub.Deliver(domain.LocationSample{TimestampMillis: 5000}))
	assert.True(t, sub.Deliver(domain.LocationSample{TimestampMillis: 4500}))
	assert.False(t, sub.Deliver(domain.LocationSample{TimestampMillis: 3000}))
}

func TestChannelSubscription_Timeout(t *testing.T) {
	sub := NewChannelSubscription(context.Background(), DefaultProviderOptions(20*time.Millisecond), nil)
	defer sub.Cancel()

	select {
	case err := <-sub.Errors():
		assert.ErrorIs(t, err, ErrLocationTimeout)
	case <-time.After(time.Second):
		t.Fatal("expected timeout error")
	}
}

func TestChannelSubscription_SamplesResetTimeout(t *testing.T) {
	sub := NewChannelSubscription(context.Background(), DefaultProviderOptions(80*time.Millisecond), nil)
	defer sub.Cancel()

	for i := 1; i <= 5; i++ {
		time.Sleep(30 * time.Millisecond)
		require.True(t, sub.Deliver(domain.LocationSample{TimestampMillis: int64(i)}))
	}

	select {
	case err := <-sub.Errors():
		t.Fatalf("unexpected error while samples keep arriving: %v", err)
	default:
	}
}

func TestChannelSubscription_CancelOnce(t *testing.T) {
	calls := 0
	sub := NewChannelSubscription(context.Background(), DefaultProviderOptions(0), func() { calls++ })

	sub.Cancel()
	sub.Cancel()

	assert.Equal(t, 1, calls)
	assert.False(t, sub.Deliver(domain.LocationSample{TimestampMillis: 1}))
	select {
	case <-sub.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestChannelSubscription_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := NewChannelSubscription(ctx, DefaultProviderOptions(0), nil)

	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not cancelled with its context")
	}
}

func TestPushProvider_RejectsInvalidSample(t *testing.T) {
	p := NewPushProvider()
	_, err := p.Subscribe(context.Background(), "device-1", DefaultProviderOptions(0))
	require.NoError(t, err)

	assert.ErrorIs(t, p.Push("device-1", domain.LocationSample{Latitude: 91}), ErrInvalidLocation)
	assert.ErrorIs(t, p.Push("device-2", domain.LocationSample{Latitude: 1, Longitude: 1}), ErrTrackingInactive)
}

func TestPushProvider_ResubscribeReplaces(t *testing.T) {
	p := NewPushProvider()
	first, err := p.Subscribe(context.Background(), "device-1", DefaultProviderOptions(0))
	require.NoError(t, err)
	second, err := p.Subscribe(context.Background(), "device-1", DefaultProviderOptions(0))
	require.NoError(t, err)

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("previous subscription not cancelled")
	}

	require.NoError(t, p.Push("device-1", domain.LocationSample{Latitude: 1, Longitude: 1, TimestampMillis: 1}))
	assert.Len(t, second.Samples(), 1)
}

func TestPushProvider_ReportsDroppedSamples(t *testing.T) {
	p := NewPushProvider()
	sub, err := p.Subscribe(context.Background(), "device-1", DefaultProviderOptions(0))
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, p.Push("device-1", domain.LocationSample{Latitude: 1, Longitude: 1, TimestampMillis: 10}))
	assert.ErrorIs(t, p.Push("device-1", domain.LocationSample{Latitude: 1, Longitude: 1, TimestampMillis: 10}), ErrSampleDropped)
	assert.ErrorIs(t, p.Push("device-1", domain.LocationSample{Latitude: 1, Longitude: 1, TimestampMillis: 3}), ErrSampleDropped)

	// Nothing drains the subscription, so the buffer eventually fills.
	var lastErr error
	for ts := int64(11); ts < 200 && lastErr == nil; ts++ {
		lastErr = p.Push("device-1", domain.LocationSample{Latitude: 1, Longitude: 1, TimestampMillis: ts})
	}
	assert.ErrorIs(t, lastErr, ErrSampleDropped)
}
