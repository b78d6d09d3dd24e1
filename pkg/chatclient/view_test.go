package chatclient

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	grpcServer "learnhub/messaging-service/internal/grpc"
	"learnhub/messaging-service/internal/models"
	"learnhub/messaging-service/internal/profile"
	"learnhub/messaging-service/internal/realtime"
	"learnhub/messaging-service/internal/repository"
	"learnhub/messaging-service/internal/service"
	"learnhub/messaging-service/pkg/reconcile"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	pb "learnhub/messaging-service/api/messaging"
)

type nopNotifier struct{}

func (nopNotifier) Dispatch(*models.Message, models.Profile) {}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newClient(t *testing.T) pb.MessagingServiceClient {
	t.Helper()
	logger := quietLogger()
	profiles := profile.NewMapStore(
		models.Profile{ID: "A", DisplayName: "Ana"},
		models.Profile{ID: "B", DisplayName: "Beto"},
	)
	bus := realtime.NewMemoryBus(realtime.DefaultQueueSize, logger)
	svc := service.NewChatService(repository.NewMemoryRepository(), profiles, nopNotifier{}, realtime.NewHub(bus, profiles, logger), logger)

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	pb.RegisterMessagingServiceServer(server, grpcServer.NewChatServer(svc, logger))
	go func() { _ = server.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		server.Stop()
		bus.Close()
	})
	return pb.NewMessagingServiceClient(conn)
}

func privateChat(t *testing.T, client pb.MessagingServiceClient) string {
	t.Helper()
	resp, err := client.CreateChat(context.Background(), &pb.CreateChatRequest{RequesterID: "A", MemberIDs: []string{"B"}})
	require.NoError(t, err)
	return resp.Chat.ID
}

func countID(entries []reconcile.Entry, id string) int {
	n := 0
	for _, e := range entries {
		if e.Message.ID == id {
			n++
		}
	}
	return n
}

func hasBody(entries []reconcile.Entry, body string) bool {
	for _, e := range entries {
		if e.Message.Body == body {
			return true
		}
	}
	return false
}

// subscribeFails simulates a realtime backend that is down.
type subscribeFails struct {
	pb.MessagingServiceClient
}

func (subscribeFails) Subscribe(context.Context, *pb.SubscribeRequest, ...grpc.CallOption) (pb.SubscribeClient, error) {
	return nil, status.Error(codes.Unavailable, "nats: no servers available")
}

// sendFailsOnce rejects the first SendMessage as if the network dropped it.
type sendFailsOnce struct {
	pb.MessagingServiceClient
	failed atomic.Bool
}

func (c *sendFailsOnce) SendMessage(ctx context.Context, in *pb.SendMessageRequest, opts ...grpc.CallOption) (*pb.SendMessageResponse, error) {
	if c.failed.CompareAndSwap(false, true) {
		return nil, status.Error(codes.Unavailable, "connection reset")
	}
	return c.MessagingServiceClient.SendMessage(ctx, in, opts...)
}

// replyAfterHistory has B reply right after the first history page is read.
type replyAfterHistory struct {
	pb.MessagingServiceClient
	chatID string
	once   atomic.Bool
}

func (c *replyAfterHistory) GetHistory(ctx context.Context, in *pb.GetHistoryRequest, opts ...grpc.CallOption) (*pb.GetHistoryResponse, error) {
	resp, err := c.MessagingServiceClient.GetHistory(ctx, in, opts...)
	if err == nil && c.once.CompareAndSwap(false, true) {
		_, err = c.MessagingServiceClient.SendMessage(ctx, &pb.SendMessageRequest{SenderID: "B", ChatID: c.chatID, Body: "just in time"})
	}
	return resp, err
}

func TestChatView_OwnMessageAppearsOnce(t *testing.T) {
	req := require.New(t)
	client := newClient(t)
	chatID := privateChat(t, client)
	ctx := context.Background()

	view, err := Open(ctx, client, "A", chatID, quietLogger())
	req.NoError(err)
	defer view.Close()
	req.False(view.Degraded())

	sent, err := view.Send(ctx, "text", "Hola", "")
	req.NoError(err)

	// B's reply is published after A's echo on the same stream.
	_, err = client.SendMessage(ctx, &pb.SendMessageRequest{SenderID: "B", ChatID: chatID, Body: "Qué tal"})
	req.NoError(err)
	req.Eventually(func() bool { return hasBody(view.Entries(), "Qué tal") }, 5*time.Second, 10*time.Millisecond)

	entries := view.Entries()
	req.Len(entries, 2)
	req.Equal(1, countID(entries, sent.ID))
	req.Equal(reconcile.StatusSent, entries[0].Status)
	req.Equal("Hola", entries[0].Message.Body)
}

func TestChatView_OpenLoadsHistory(t *testing.T) {
	req := require.New(t)
	client := newClient(t)
	chatID := privateChat(t, client)
	ctx := context.Background()

	for _, body := range []string{"uno", "dos"} {
		_, err := client.SendMessage(ctx, &pb.SendMessageRequest{SenderID: "B", ChatID: chatID, Body: body})
		req.NoError(err)
	}

	view, err := Open(ctx, client, "A", chatID, quietLogger())
	req.NoError(err)
	defer view.Close()

	entries := view.Entries()
	req.Len(entries, 2)
	req.Equal("uno", entries[0].Message.Body)

	marked, err := view.MarkRead(ctx)
	req.NoError(err)
	req.Equal(2, marked)
}

func TestChatView_OpenSeesMessagesStoredWhileLoading(t *testing.T) {
	req := require.New(t)
	client := newClient(t)
	chatID := privateChat(t, client)
	ctx := context.Background()

	view, err := Open(ctx, &replyAfterHistory{MessagingServiceClient: client, chatID: chatID}, "A", chatID, quietLogger())
	req.NoError(err)
	defer view.Close()
	req.False(view.Degraded())

	req.Eventually(func() bool { return hasBody(view.Entries(), "just in time") }, 5*time.Second, 10*time.Millisecond)
	req.Len(view.Entries(), 1)
}

func TestChatView_OpenFailsForOutsider(t *testing.T) {
	client := newClient(t)
	chatID := privateChat(t, client)

	_, err := Open(context.Background(), client, "C", chatID, quietLogger())
	require.Error(t, err)
	require.Equal(t, codes.PermissionDenied, status.Code(errors.Unwrap(err)))
}

func TestChatView_DegradedWithoutRealtime(t *testing.T) {
	req := require.New(t)
	client := newClient(t)
	chatID := privateChat(t, client)
	ctx := context.Background()

	view, err := Open(ctx, subscribeFails{client}, "A", chatID, quietLogger())
	req.NoError(err)
	defer view.Close()
	req.True(view.Degraded())

	_, err = client.SendMessage(ctx, &pb.SendMessageRequest{SenderID: "B", ChatID: chatID, Body: "are you there?"})
	req.NoError(err)
	req.Empty(view.Entries())

	req.NoError(view.Refresh(ctx))
	req.True(hasBody(view.Entries(), "are you there?"))
}

func TestChatView_FailedSendKeepsContentAndRetries(t *testing.T) {
	req := require.New(t)
	client := newClient(t)
	chatID := privateChat(t, client)
	ctx := context.Background()

	flaky := &sendFailsOnce{MessagingServiceClient: client}
	var changes atomic.Int32
	view, err := Open(ctx, flaky, "A", chatID, quietLogger(), WithOnChange(func() { changes.Add(1) }))
	req.NoError(err)
	defer view.Close()

	_, err = view.Send(ctx, "text", "long answer I do not want to retype", "")
	req.Error(err)

	entries := view.Entries()
	req.Len(entries, 1)
	req.Equal(reconcile.StatusFailed, entries[0].Status)
	req.Equal("long answer I do not want to retype", entries[0].Message.Body)
	failedID := entries[0].Message.ID

	sent, err := view.Retry(ctx, failedID)
	req.NoError(err)
	req.Equal(failedID, sent.ID)

	entries = view.Entries()
	req.Equal(1, countID(entries, failedID))
	req.Equal(reconcile.StatusSent, entries[0].Status)
	req.Positive(changes.Load())
}

func TestChatView_CloseReleasesStream(t *testing.T) {
	client := newClient(t)
	chatID := privateChat(t, client)

	view, err := Open(context.Background(), client, "A", chatID, quietLogger())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		view.Close()
		view.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	require.False(t, view.Degraded())
}
