package messaging

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "messaging.v1.MessagingService"

// SubscribedHeader is sent once the server has opened the realtime
// subscription, before any event.
const SubscribedHeader = "x-subscribed"

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

type MessagingServiceServer interface {
	CreateChat(context.Context, *CreateChatRequest) (*CreateChatResponse, error)
	GetChat(context.Context, *GetChatRequest) (*GetChatResponse, error)
	ListChats(context.Context, *ListChatsRequest) (*ListChatsResponse, error)
	ListMembers(context.Context, *ListMembersRequest) (*ListMembersResponse, error)
	LeaveChat(context.Context, *LeaveChatRequest) (*LeaveChatResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	GetHistory(context.Context, *GetHistoryRequest) (*GetHistoryResponse, error)
	MarkRead(context.Context, *MarkReadRequest) (*MarkReadResponse, error)
	DeleteMessage(context.Context, *DeleteMessageRequest) (*DeleteMessageResponse, error)
	Subscribe(*SubscribeRequest, SubscribeServer) error
}

type SubscribeServer interface {
	Send(*MessageEvent) error
	grpc.ServerStream
}

type subscribeServer struct {
	grpc.ServerStream
}

func (s *subscribeServer) Send(e *MessageEvent) error {
	return s.ServerStream.SendMsg(e)
}

func unary[Req, Resp any](name string, call func(MessagingServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(MessagingServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MessagingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateChat", MessagingServiceServer.CreateChat),
		unary("GetChat", MessagingServiceServer.GetChat),
		unary("ListChats", MessagingServiceServer.ListChats),
		unary("ListMembers", MessagingServiceServer.ListMembers),
		unary("LeaveChat", MessagingServiceServer.LeaveChat),
		unary("SendMessage", MessagingServiceServer.SendMessage),
		unary("GetHistory", MessagingServiceServer.GetHistory),
		unary("MarkRead", MessagingServiceServer.MarkRead),
		unary("DeleteMessage", MessagingServiceServer.DeleteMessage),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(SubscribeRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(MessagingServiceServer).Subscribe(in, &subscribeServer{stream})
			},
		},
	},
	Metadata: "api/messaging",
}

func RegisterMessagingServiceServer(s grpc.ServiceRegistrar, srv MessagingServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
