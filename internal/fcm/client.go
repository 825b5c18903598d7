package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/locolive/socialgraph/internal/domain"
)

// Sender is the subset of the messaging client used here.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Client pushes notification events to devices subscribed to the
// recipient's topic. Devices subscribe to the same name as the realtime
// channel, so no token registry is kept here.
type Client struct {
	sender Sender
	logger *zap.Logger
}

func NewClient(ctx context.Context, logger *zap.Logger, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	} else {
		logger.Warn("No Firebase credentials file provided. FCM will utilize environment variable GOOGLE_APPLICATION_CREDENTIALS or default credentials.")
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return NewClientWithSender(msgClient, logger), nil
}

func NewClientWithSender(sender Sender, logger *zap.Logger) *Client {
	return &Client{sender: sender, logger: logger}
}

// Push implements domain.PushNotifier.
func (c *Client) Push(ctx context.Context, event domain.NotificationEvent) error {
	message := BuildMessage(event)
	if _, err := c.sender.Send(ctx, message); err != nil {
		c.logger.Error("Failed to send FCM message", zap.String("topic", message.Topic), zap.Error(err))
		return err
	}
	return nil
}

// BuildMessage renders an event as a data message on the recipient's topic.
func BuildMessage(event domain.NotificationEvent) *messaging.Message {
	data := map[string]string{
		"event_id": event.ID.String(),
		"type":     string(event.Type),
		"actor_id": event.ActorID.String(),
		"user_id":  event.UserID.String(),
	}
	if event.GroupID != nil {
		data["group_id"] = event.GroupID.String()
	}
	if event.Role != "" {
		data["role"] = string(event.Role)
	}

	return &messaging.Message{
		Topic: domain.ChannelName(event.RecipientID),
		Notification: &messaging.Notification{
			Title: "Locolive",
			Body:  notificationBody(event.Type),
		},
		Data: data,
	}
}

func notificationBody(t domain.EventType) string {
	switch t {
	case domain.EventFriendRequestSent:
		return "You have a new friend request"
	case domain.EventFriendRequestAccepted:
		return "Your friend request was accepted"
	case domain.EventMembershipRequested:
		return "Someone asked to join your group"
	case domain.EventMembershipApproved:
		return "Your request to join was approved"
	case domain.EventMemberPromoted:
		return "You were promoted in a group"
	case domain.EventMemberDemoted:
		return "Your group role changed"
	case domain.EventMemberRemoved:
		return "You were removed from a group"
	default:
		return "You have a new notification"
	}
}
