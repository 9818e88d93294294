package services

import (
	"context"
	"fmt"
	"log"

	"firebase.google.com/go/messaging"

	"masterskayaBack/internal/models"
)

// NotificationStore persists the notification row and resolves push tokens.
// Implemented by repositories.NotificationRepository.
type NotificationStore interface {
	Create(ctx context.Context, userID int, title, body string) (models.Notification, error)
	DeviceToken(ctx context.Context, userID int) (string, error)
}

// NotifyService fans a user message out over the channels we have: DB row,
// the realtime socket and FCM push. Only the row is required; the rest is
// best-effort.
type NotifyService struct {
	Store     NotificationStore
	Publisher EventPublisher
	FCM       *messaging.Client // optional

	ErrorLog *log.Logger
}

// PaymentFailed tells the user their payment operation could not be
// completed. The row write gets one extra attempt; after that the failure is
// logged and swallowed so callers are never blocked on notification delivery.
func (s *NotifyService) PaymentFailed(ctx context.Context, userID int, label string) {
	title := "Платёж не прошёл"
	body := fmt.Sprintf("Не удалось завершить операцию по платежу %s. Свяжитесь с поддержкой.", label)
	s.deliver(ctx, userID, title, body)
}

func (s *NotifyService) deliver(ctx context.Context, userID int, title, body string) {
	n, err := s.Store.Create(ctx, userID, title, body)
	if err != nil {
		n, err = s.Store.Create(ctx, userID, title, body)
	}
	if err != nil {
		s.ErrorLog.Printf("notify: store notification for user %d: %v", userID, err)
		return
	}

	s.Publisher.Publish(models.Event{
		Type:    models.EventNotification,
		Data:    models.NotificationData{ID: n.ID, Title: title, Body: body},
		UserIDs: []int{userID},
	})
	s.push(ctx, userID, title, body)
}

func (s *NotifyService) push(ctx context.Context, userID int, title, body string) {
	if s.FCM == nil {
		return
	}
	token, err := s.Store.DeviceToken(ctx, userID)
	if err != nil || token == "" {
		return
	}
	_, err = s.FCM.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	})
	if err != nil {
		s.ErrorLog.Printf("notify: fcm push to user %d: %v", userID, err)
	}
}
