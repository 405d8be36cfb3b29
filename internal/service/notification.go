package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fare/internal/clock"
	"fare/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationTripSaved      NotificationType = "TRIP_SAVED"
	NotificationTripDeleted    NotificationType = "TRIP_DELETED"
	NotificationHistoryCleared NotificationType = "HISTORY_CLEARED"
	NotificationSyncDelayed    NotificationType = "SYNC_DELAYED"
	NotificationTripsPushed    NotificationType = "TRIPS_PUSHED"
)

// User-facing sync messages.
const (
	MsgSavedSynced       = "Trip saved to history and synced to cloud!"
	MsgSavedLocally      = "Trip saved locally, but cloud sync failed. Will retry later."
	MsgSyncDelayed       = "Cloud sync may be delayed."
	MsgDeleted           = "Trip deleted."
	MsgDeletedLocally    = "Trip deleted. Cloud copy will be removed later."
	MsgHistoryCleared    = "History cleared."
	MsgHistoryClearedLoc = "History cleared. Cloud copies will be removed later."
)

// Notification represents a sync event for the device owner.
type Notification struct {
	Type        NotificationType       `json:"type"`
	RecipientID string                 `json:"device_id"`
	Op          SyncOp                 `json:"op"`
	Synced      bool                   `json:"synced"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// EventPublisher forwards notifications to an external bus.
type EventPublisher interface {
	PublishNotification(ctx context.Context, n Notification) error
}

// NotificationService turns sync outcomes into user messages, logs them and
// optionally publishes them.
type NotificationService struct {
	publisher EventPublisher
	clock     clock.Clock
	logger    *zap.Logger
}

// NewNotificationService creates a new NotificationService. publisher may be nil.
func NewNotificationService(publisher EventPublisher, clk clock.Clock, logger *zap.Logger) *NotificationService {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

// SaveMessage is the confirmation shown after a save.
func SaveMessage(outcome SyncOutcome) string {
	if outcome.Synced {
		return MsgSavedSynced
	}
	return MsgSavedLocally
}

// OutcomeMessage is the message shown for a sync outcome.
func OutcomeMessage(outcome SyncOutcome) string {
	switch outcome.Op {
	case SyncOpSave:
		return SaveMessage(outcome)
	case SyncOpDelete:
		if outcome.Synced {
			return MsgDeleted
		}
		return MsgDeletedLocally
	case SyncOpClear:
		if outcome.Synced {
			return MsgHistoryCleared
		}
		return MsgHistoryClearedLoc
	default:
		if outcome.Synced {
			return ""
		}
		return MsgSyncDelayed
	}
}

// NotifyTripSaved reports the result of saving a trip.
func (s *NotificationService) NotifyTripSaved(ctx context.Context, trip *domain.TripRecord, outcome SyncOutcome) {
	s.send(ctx, Notification{
		Type:        NotificationTripSaved,
		RecipientID: trip.DeviceID,
		Op:          outcome.Op,
		Synced:      outcome.Synced,
		Message:     SaveMessage(outcome),
		Data: map[string]interface{}{
			"trip_id":  trip.ID,
			"type":     trip.Kind,
			"distance": trip.DistanceKm,
			"fare":     trip.Fare,
			"currency": trip.Currency,
		},
		CreatedAt: s.clock.Now(),
	}, outcome.Err)
}

// NotifySyncOutcome reports a delete, clear or listing outcome.
func (s *NotificationService) NotifySyncOutcome(ctx context.Context, deviceID string, outcome SyncOutcome) {
	var typ NotificationType
	switch outcome.Op {
	case SyncOpDelete:
		typ = NotificationTripDeleted
	case SyncOpClear:
		typ = NotificationHistoryCleared
	default:
		typ = NotificationSyncDelayed
	}

	s.send(ctx, Notification{
		Type:        typ,
		RecipientID: deviceID,
		Op:          outcome.Op,
		Synced:      outcome.Synced,
		Message:     OutcomeMessage(outcome),
		CreatedAt:   s.clock.Now(),
	}, outcome.Err)
}

// NotifyTripsPushed reports trips that reached the remote store late.
func (s *NotificationService) NotifyTripsPushed(ctx context.Context, deviceID string, count int) {
	s.send(ctx, Notification{
		Type:        NotificationTripsPushed,
		RecipientID: deviceID,
		Op:          SyncOpPush,
		Synced:      true,
		Message:     fmt.Sprintf("%d saved trip(s) synced to cloud.", count),
		Data:        map[string]interface{}{"count": count},
		CreatedAt:   s.clock.Now(),
	}, nil)
}

// send logs a notification and hands it to the publisher.
func (s *NotificationService) send(ctx context.Context, n Notification, cause error) {
	fields := []zap.Field{
		zap.String("type", string(n.Type)),
		zap.String("device_id", n.RecipientID),
		zap.String("op", string(n.Op)),
		zap.Bool("synced", n.Synced),
		zap.String("message", n.Message),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	s.logger.Info("notification", fields...)

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishNotification(context.WithoutCancel(ctx), n); err != nil {
		s.logger.Warn("publish notification failed", zap.Error(err))
	}
}
