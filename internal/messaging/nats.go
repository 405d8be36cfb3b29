package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"fare/internal/domain"
	"fare/internal/metrics"
	"fare/internal/service"
)

// Connect opens a NATS connection that reports its state to m.
func Connect(url string, m *metrics.Collector, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("fare-calculator"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			m.NATSSetConnected(false)
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			m.NATSSetConnected(true)
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			m.NATSSetConnected(false)
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	m.NATSSetConnected(true)
	return nc, nil
}

// Close drains and closes a connection.
func Close(nc *nats.Conn) {
	if nc != nil {
		_ = nc.Drain()
		nc.Close()
	}
}

// LocationProvider receives samples published on <subject>.<deviceID>.
type LocationProvider struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewLocationProvider creates a new LocationProvider.
func NewLocationProvider(nc *nats.Conn, subject string, logger *zap.Logger) *LocationProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocationProvider{nc: nc, subject: subject, logger: logger}
}

// Subscribe starts receiving samples for deviceID.
func (p *LocationProvider) Subscribe(ctx context.Context, deviceID string, opts service.ProviderOptions) (service.Subscription, error) {
	subject := fmt.Sprintf("%s.%s", p.subject, subjectToken(deviceID))

	var (
		mu       sync.Mutex
		natsSub  *nats.Subscription
		canceled bool
	)
	sub := service.NewChannelSubscription(ctx, opts, func() {
		mu.Lock()
		defer mu.Unlock()
		canceled = true
		if natsSub != nil {
			_ = natsSub.Unsubscribe()
		}
	})

	s, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		handleSample(sub, msg.Data)
	})
	if err != nil {
		sub.Cancel()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	mu.Lock()
	natsSub = s
	if canceled {
		_ = s.Unsubscribe()
	}
	mu.Unlock()

	p.logger.Info("nats location subscription started", zap.String("subject", subject))
	return sub, nil
}

// sampleSink is the part of a subscription a message handler feeds.
type sampleSink interface {
	Deliver(sample domain.LocationSample) bool
	Fail(err error)
}

func handleSample(sink sampleSink, data []byte) {
	var sample domain.LocationSample
	if err := json.Unmarshal(data, &sample); err != nil {
		sink.Fail(fmt.Errorf("decode location sample: %w", err))
		return
	}
	sink.Deliver(sample)
}

// Publisher publishes sync notifications on <subject>.<deviceID>.
type Publisher struct {
	nc      *nats.Conn
	subject string
	metrics *metrics.Collector
}

// NewPublisher creates a new Publisher.
func NewPublisher(nc *nats.Conn, subject string, m *metrics.Collector) *Publisher {
	return &Publisher{nc: nc, subject: subject, metrics: m}
}

// PublishNotification publishes n as JSON.
func (p *Publisher) PublishNotification(_ context.Context, n service.Notification) error {
	subject := fmt.Sprintf("%s.%s", p.subject, subjectToken(n.RecipientID))
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	err = p.nc.Publish(subject, b)
	if err != nil {
		p.metrics.NATSPublishErrInc()
	} else {
		p.metrics.NATSPublishedInc()
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

var (
	_ service.LocationProvider = (*LocationProvider)(nil)
	_ service.EventPublisher   = (*Publisher)(nil)
)
