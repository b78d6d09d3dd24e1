// Package chatclient is the client side of one open conversation: it loads
// history, follows the realtime stream and sends with optimistic display.
package chatclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"learnhub/messaging-service/pkg/reconcile"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "learnhub/messaging-service/api/messaging"
)

const historyPageSize = 50

// ChatView keeps the timeline of a single chat for one principal. Close must
// be called to release the realtime subscription.
type ChatView struct {
	client      pb.MessagingServiceClient
	principalID string
	chatID      string
	logger      *logrus.Logger
	timeline    *reconcile.Timeline

	degraded atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	onChange func()
}

type Option func(*ChatView)

// WithOnChange registers a callback run after every timeline change. It is
// called from the stream goroutine as well as from Send.
func WithOnChange(fn func()) Option {
	return func(v *ChatView) { v.onChange = fn }
}

// Open attaches to the chat's realtime stream and then loads the latest
// history page, so nothing stored in between is missed. A stream that cannot
// be opened does not fail Open: the view comes back degraded and callers
// refresh it manually.
func Open(ctx context.Context, client pb.MessagingServiceClient, principalID, chatID string, logger *logrus.Logger, opts ...Option) (*ChatView, error) {
	v := &ChatView{
		client:      client,
		principalID: principalID,
		chatID:      chatID,
		logger:      logger,
		timeline:    reconcile.NewTimeline(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	stream, err := v.subscribe(streamCtx)
	if err != nil {
		v.logger.WithError(err).WithField("chat_id", chatID).Warn("Realtime unavailable, falling back to manual refresh")
		v.degraded.Store(true)
		cancel()
	}

	// Events received meanwhile wait in the stream and are merged after the
	// page.
	if err := v.Refresh(ctx); err != nil {
		cancel()
		close(v.done)
		return nil, err
	}

	if stream == nil {
		close(v.done)
		return v, nil
	}
	go v.follow(stream)
	return v, nil
}

func (v *ChatView) subscribe(ctx context.Context) (pb.SubscribeClient, error) {
	stream, err := v.client.Subscribe(ctx, &pb.SubscribeRequest{RequesterID: v.principalID, ChatID: v.chatID})
	if err != nil {
		return nil, err
	}
	header, err := stream.Header()
	if err != nil {
		return nil, err
	}
	if len(header.Get(pb.SubscribedHeader)) == 0 {
		// No header means the server ended the call; the status is on Recv.
		if _, err := stream.Recv(); err != nil {
			return nil, err
		}
		return nil, status.Error(codes.Unavailable, "subscription not acknowledged")
	}
	return stream, nil
}

func (v *ChatView) follow(stream pb.SubscribeClient) {
	defer close(v.done)
	for {
		event, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return
			}
			v.logger.WithError(err).WithField("chat_id", v.chatID).Warn("Realtime stream lost, view is degraded")
			v.degraded.Store(true)
			return
		}
		v.timeline.Apply(event.Message)
		v.changed()
	}
}

func (v *ChatView) changed() {
	if v.onChange != nil {
		v.onChange()
	}
}

// Degraded reports whether the view lost, or never had, its realtime stream.
func (v *ChatView) Degraded() bool {
	return v.degraded.Load()
}

// Refresh reloads the latest history page. Unconfirmed local messages are
// kept.
func (v *ChatView) Refresh(ctx context.Context) error {
	resp, err := v.client.GetHistory(ctx, &pb.GetHistoryRequest{
		RequesterID: v.principalID,
		ChatID:      v.chatID,
		Limit:       historyPageSize,
	})
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	v.timeline.Reset(resp.Messages)
	v.changed()
	return nil
}

// Send shows the message immediately as pending and then submits it. On
// failure the entry stays in the timeline as failed so it can be retried.
func (v *ChatView) Send(ctx context.Context, kind, body, mediaURL string) (*pb.Message, error) {
	local := &pb.Message{
		ID:        ulid.Make().String(),
		ChatID:    v.chatID,
		SenderID:  v.principalID,
		Body:      body,
		Kind:      kind,
		MediaURL:  mediaURL,
		CreatedAt: time.Now(),
	}
	v.timeline.AddOptimistic(local)
	v.changed()
	return v.submit(ctx, local)
}

// Retry resubmits a failed message under its original id.
func (v *ChatView) Retry(ctx context.Context, messageID string) (*pb.Message, error) {
	local, ok := v.timeline.Retry(messageID)
	if !ok {
		return nil, fmt.Errorf("message %s is not awaiting retry", messageID)
	}
	v.changed()
	return v.submit(ctx, local)
}

func (v *ChatView) submit(ctx context.Context, local *pb.Message) (*pb.Message, error) {
	resp, err := v.client.SendMessage(ctx, &pb.SendMessageRequest{
		ClientMessageID: local.ID,
		SenderID:        v.principalID,
		ChatID:          v.chatID,
		Kind:            local.Kind,
		Body:            local.Body,
		MediaURL:        local.MediaURL,
	})
	if err != nil {
		v.logger.WithError(err).WithField("message_id", local.ID).Warn("Send failed")
		v.timeline.Fail(local.ID)
		v.changed()
		return nil, err
	}
	v.timeline.Apply(resp.Message)
	v.changed()
	return resp.Message, nil
}

func (v *ChatView) MarkRead(ctx context.Context) (int, error) {
	resp, err := v.client.MarkRead(ctx, &pb.MarkReadRequest{ChatID: v.chatID, ReaderID: v.principalID})
	if err != nil {
		return 0, err
	}
	return int(resp.MarkedCount), nil
}

func (v *ChatView) Entries() []reconcile.Entry {
	return v.timeline.Entries()
}

func (v *ChatView) Runs() []reconcile.Run {
	return v.timeline.Runs()
}

// Close releases the realtime subscription and waits for the stream
// goroutine to exit.
func (v *ChatView) Close() {
	v.once.Do(func() {
		if v.cancel != nil {
			v.cancel()
		}
		<-v.done
	})
}
