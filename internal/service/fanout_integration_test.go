package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"learnhub/messaging-service/internal/models"
	"learnhub/messaging-service/internal/notification"
	"learnhub/messaging-service/internal/profile"
	"learnhub/messaging-service/internal/realtime"
	"learnhub/messaging-service/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type flakyDeliverer struct {
	mu      sync.Mutex
	reached []string
	down    string
}

func (d *flakyDeliverer) Deliver(ctx context.Context, record models.NotificationRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if record.RecipientID == d.down {
		return errors.New("device token expired")
	}
	d.reached = append(d.reached, record.RecipientID)
	return nil
}

func TestScenario_GroupSendNotifiesOthersDespiteFailures(t *testing.T) {
	req := require.New(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo := repository.NewMemoryRepository()
	profiles := profile.NewMapStore(models.Profile{ID: "A", DisplayName: "Ana"})
	deliverer := &flakyDeliverer{down: "C"}
	fanout := notification.NewFanout(repo, deliverer, logger, time.Second)
	bus := realtime.NewMemoryBus(8, logger)
	defer bus.Close()
	svc := NewChatService(repo, profiles, fanout, realtime.NewHub(bus, profiles, logger), logger)
	ctx := context.Background()

	group, err := svc.CreateChat(ctx, CreateChatRequest{RequesterID: "A", IsGroup: true, DisplayName: "Lab", MemberIDs: []string{"B", "C", "D"}})
	req.NoError(err)

	msg, err := svc.SendMessage(ctx, SendMessageRequest{SenderID: "A", ChatID: group.ID, Payload: models.Text{Body: "quiz tomorrow"}})
	req.NoError(err)
	req.NotNil(msg)
	fanout.Wait()

	sort.Strings(deliverer.reached)
	req.Equal([]string{"B", "D"}, deliverer.reached)
}
