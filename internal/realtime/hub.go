package realtime

import (
	"context"
	"time"

	"learnhub/messaging-service/internal/models"
	"learnhub/messaging-service/internal/profile"

	"github.com/sirupsen/logrus"
)

const profileLookupTimeout = 2 * time.Second

// Hub sits on top of a Bus and enriches every delivered message with the
// sender's profile as it is at delivery time.
type Hub struct {
	bus      Bus
	profiles profile.Store
	logger   *logrus.Logger
}

func NewHub(bus Bus, profiles profile.Store, logger *logrus.Logger) *Hub {
	return &Hub{bus: bus, profiles: profiles, logger: logger}
}

func (h *Hub) Publish(ctx context.Context, msg *models.Message) error {
	return h.bus.Publish(ctx, msg)
}

func (h *Hub) Subscribe(ctx context.Context, chatID string, onMessage func(models.MessageEvent)) (*Subscription, error) {
	return h.bus.Subscribe(ctx, chatID, func(msg *models.Message) {
		onMessage(models.MessageEvent{Message: msg, Sender: h.sender(msg.SenderID)})
	})
}

func (h *Hub) sender(principalID string) models.Profile {
	ctx, cancel := context.WithTimeout(context.Background(), profileLookupTimeout)
	defer cancel()

	p, err := h.profiles.GetProfile(ctx, principalID)
	if err != nil {
		h.logger.WithError(err).WithField("principal_id", principalID).Warn("Profile lookup failed, using fallback")
		return profile.Fallback(principalID)
	}
	return p
}

func (h *Hub) Close() error {
	return h.bus.Close()
}
