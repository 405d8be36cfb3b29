package service

import (
	"context"
	"sync"
	"time"

	"fare/internal/domain"
)

// ProviderOptions mirrors the sampling options a device location API accepts.
type ProviderOptions struct {
	HighAccuracy bool
	// MaximumAge is how old a delivered position may be. Zero rejects any
	// sample that is not newer than the last one delivered.
	MaximumAge time.Duration
	// Timeout is the longest wait for the next update before the
	// subscription fails with ErrLocationTimeout. Zero disables it.
	Timeout time.Duration
}

// DefaultProviderOptions returns high-accuracy, no-cache options with the
// given per-update timeout.
func DefaultProviderOptions(timeout time.Duration) ProviderOptions {
	return ProviderOptions{
		HighAccuracy: true,
		MaximumAge:   0,
		Timeout:      timeout,
	}
}

// Subscription is a live stream of location samples.
type Subscription interface {
	Samples() <-chan domain.LocationSample
	Errors() <-chan error
	Done() <-chan struct{}
	Cancel()
}

// LocationProvider starts location subscriptions for a device.
type LocationProvider interface {
	Subscribe(ctx context.Context, deviceID string, opts ProviderOptions) (Subscription, error)
}

const sampleBuffer = 64

// ChannelSubscription is a Subscription fed through Deliver and Fail.
// Providers embed it to get stale-sample filtering and the update timeout.
type ChannelSubscription struct {
	opts    ProviderOptions
	samples chan domain.LocationSample
	errs    chan error
	kick    chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	last     int64
	hasLast  bool
	once     sync.Once
	onCancel func()
}

// NewChannelSubscription creates a subscription. onCancel, if set, runs once
// when the subscription is cancelled. The subscription is cancelled when ctx is.
func NewChannelSubscription(ctx context.Context, opts ProviderOptions, onCancel func()) *ChannelSubscription {
	s := &ChannelSubscription{
		opts:     opts,
		samples:  make(chan domain.LocationSample, sampleBuffer),
		errs:     make(chan error, 1),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		onCancel: onCancel,
	}
	go s.watch(ctx)
	return s
}

func (s *ChannelSubscription) Samples() <-chan domain.LocationSample { return s.samples }
func (s *ChannelSubscription) Errors() <-chan error                  { return s.errs }
func (s *ChannelSubscription) Done() <-chan struct{}                 { return s.done }

// Deliver offers a sample to the subscriber. It returns false when the sample
// was dropped: subscription closed, sample stale, or buffer full.
func (s *ChannelSubscription) Deliver(sample domain.LocationSample) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.mu.Lock()
	if s.hasLast && s.isStale(sample) {
		s.mu.Unlock()
		return false
	}
	if !s.hasLast || sample.TimestampMillis > s.last {
		s.last = sample.TimestampMillis
	}
	s.hasLast = true
	s.mu.Unlock()

	select {
	case s.samples <- sample:
	default:
		return false
	}

	select {
	case s.kick <- struct{}{}:
	default:
	}
	return true
}

func (s *ChannelSubscription) isStale(sample domain.LocationSample) bool {
	if s.opts.MaximumAge <= 0 {
		return sample.TimestampMillis <= s.last
	}
	return sample.TimestampMillis < s.last-s.opts.MaximumAge.Milliseconds()
}

// Fail reports a provider error. Only the first error is kept.
func (s *ChannelSubscription) Fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.errs <- err:
	default:
	}
}

// Cancel stops the subscription. It is safe to call more than once.
func (s *ChannelSubscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		if s.onCancel != nil {
			s.onCancel()
		}
	})
}

func (s *ChannelSubscription) watch(ctx context.Context) {
	var timeout <-chan time.Time
	var timer *time.Timer
	if s.opts.Timeout > 0 {
		timer = time.NewTimer(s.opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			s.Cancel()
			return
		case <-s.done:
			return
		case <-s.kick:
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.opts.Timeout)
			}
		case <-timeout:
			s.Fail(ErrLocationTimeout)
			return
		}
	}
}

// PushProvider is a LocationProvider fed by the client pushing samples,
// one live subscription per device.
type PushProvider struct {
	mu   sync.Mutex
	subs map[string]*ChannelSubscription
}

// NewPushProvider creates a new PushProvider.
func NewPushProvider() *PushProvider {
	return &PushProvider{subs: make(map[string]*ChannelSubscription)}
}

// Subscribe opens a subscription for deviceID, replacing any previous one.
func (p *PushProvider) Subscribe(ctx context.Context, deviceID string, opts ProviderOptions) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.subs[deviceID]; ok {
		delete(p.subs, deviceID)
		go prev.Cancel()
	}

	var sub *ChannelSubscription
	sub = NewChannelSubscription(ctx, opts, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.subs[deviceID] == sub {
			delete(p.subs, deviceID)
		}
	})
	p.subs[deviceID] = sub
	return sub, nil
}

// Push hands a sample to the device's live subscription. It returns
// ErrSampleDropped when the subscription discards the sample.
func (p *PushProvider) Push(deviceID string, sample domain.LocationSample) error {
	if !isValidSample(sample) {
		return ErrInvalidLocation
	}

	p.mu.Lock()
	sub, ok := p.subs[deviceID]
	p.mu.Unlock()
	if !ok {
		return ErrTrackingInactive
	}

	if !sub.Deliver(sample) {
		return ErrSampleDropped
	}
	return nil
}

var (
	_ LocationProvider = (*PushProvider)(nil)
	_ Subscription     = (*ChannelSubscription)(nil)
)
