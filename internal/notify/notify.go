// Package notify delivers dose reminders to the local notification surface
// and any configured caregiver channels.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/pillpal/pillpald/internal/errors"
	"github.com/pillpal/pillpald/internal/store"
)

// Permission mirrors the tri-state notification permission of the hosting
// platform. Nothing is delivered locally until it is granted.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Notification is one outbound reminder. Tag is the dedupe key the platform
// uses to collapse repeats for the same dose.
type Notification struct {
	Tag    string
	Title  string
	Body   string
	DoseID string
	Chime  bool
}

// Sink is one delivery channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Notifier fans a notification out to every sink and records each delivery
// in the notification log.
type Notifier struct {
	mu         sync.RWMutex
	permission Permission
	chime      bool
	sinks      []Sink
	store      *store.Store
	logger     *zap.Logger
}

// New creates a Notifier. The store may be nil in tests; deliveries are then
// not logged.
func New(permission Permission, chime bool, st *store.Store, logger *zap.Logger) *Notifier {
	if permission == "" {
		permission = PermissionDefault
	}
	return &Notifier{
		permission: permission,
		chime:      chime,
		store:      st,
		logger:     logger,
	}
}

// AddSink registers a delivery channel.
func (n *Notifier) AddSink(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

// SetPermission updates the permission state.
func (n *Notifier) SetPermission(p Permission) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.permission = p
}

// Permission returns the current permission state.
func (n *Notifier) Permission() Permission {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.permission
}

// Send delivers the notification through every sink. Delivery is best-effort
// per sink; the first error is returned after all sinks were tried.
func (n *Notifier) Send(ctx context.Context, notif Notification) error {
	n.mu.RLock()
	permission := n.permission
	sinks := make([]Sink, len(n.sinks))
	copy(sinks, n.sinks)
	chime := n.chime
	n.mu.RUnlock()

	if permission != PermissionGranted {
		return apperrors.ErrPermissionNotGiven
	}

	notif.Chime = notif.Chime && chime

	var firstErr error
	for _, sink := range sinks {
		if err := sink.Send(ctx, notif); err != nil {
			n.logger.Warn("notification sink failed",
				zap.String("sink", sink.Name()),
				zap.String("tag", notif.Tag),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if n.store != nil {
			if err := n.store.LogNotification(&store.NotificationRecord{
				Tag:     notif.Tag,
				DoseID:  notif.DoseID,
				Channel: sink.Name(),
				Title:   notif.Title,
				Body:    notif.Body,
			}); err != nil {
				n.logger.Warn("failed to log notification", zap.Error(err))
			}
		}
	}

	return firstErr
}

// LocalSink writes notifications to the structured log, standing in for the
// host OS notification surface in headless deployments.
type LocalSink struct {
	logger *zap.Logger
}

// NewLocalSink creates the log-backed local sink.
func NewLocalSink(logger *zap.Logger) *LocalSink {
	return &LocalSink{logger: logger}
}

func (s *LocalSink) Name() string { return "local" }

func (s *LocalSink) Send(_ context.Context, n Notification) error {
	s.logger.Info("notification",
		zap.String("tag", n.Tag),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.Bool("chime", n.Chime))
	return nil
}
