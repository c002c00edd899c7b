package transport

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "chord.v1.ChordService"

// chordServiceServer is the server API for ChordService.
type chordServiceServer interface {
	FindSuccessor(context.Context, *idRequest) (*nodeMessage, error)
	ClosestPrecedingFinger(context.Context, *idRequest) (*nodeMessage, error)
	GetPredecessor(context.Context, *empty) (*nodeMessage, error)
	Notify(context.Context, *nodeMessage) (*empty, error)
	GetSuccessorList(context.Context, *empty) (*nodeList, error)
	Ping(context.Context, *empty) (*empty, error)
	GetNodeInfo(context.Context, *empty) (*nodeInfoReply, error)
	Get(context.Context, *keyRequest) (*valueReply, error)
	Put(context.Context, *keyRequest) (*empty, error)
	Delete(context.Context, *keyRequest) (*empty, error)
	TransferKeys(context.Context, *rangeMessage) (*rangeMessage, error)
	DeleteTransferredKeys(context.Context, *rangeMessage) (*rangeMessage, error)
	BulkStore(context.Context, *rangeMessage) (*empty, error)
	StoreReplicas(context.Context, *rangeMessage) (*empty, error)
	DeleteReplica(context.Context, *keyRequest) (*empty, error)
	NotifyPredecessorLeaving(context.Context, *leavingRequest) (*empty, error)
	NotifySuccessorLeaving(context.Context, *leavingRequest) (*empty, error)
}

// fullMethod returns the gRPC method path for name.
func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// unaryMethod adapts a typed server method to a grpc.MethodDesc.
func unaryMethod[Req any, PReq interface {
	*Req
	wireMessage
}, Resp wireMessage](name string, call func(chordServiceServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(chordServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(chordServiceServer), ctx, req.(PReq))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var chordServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*chordServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("FindSuccessor", chordServiceServer.FindSuccessor),
		unaryMethod("ClosestPrecedingFinger", chordServiceServer.ClosestPrecedingFinger),
		unaryMethod("GetPredecessor", chordServiceServer.GetPredecessor),
		unaryMethod("Notify", chordServiceServer.Notify),
		unaryMethod("GetSuccessorList", chordServiceServer.GetSuccessorList),
		unaryMethod("Ping", chordServiceServer.Ping),
		unaryMethod("GetNodeInfo", chordServiceServer.GetNodeInfo),
		unaryMethod("Get", chordServiceServer.Get),
		unaryMethod("Put", chordServiceServer.Put),
		unaryMethod("Delete", chordServiceServer.Delete),
		unaryMethod("TransferKeys", chordServiceServer.TransferKeys),
		unaryMethod("DeleteTransferredKeys", chordServiceServer.DeleteTransferredKeys),
		unaryMethod("BulkStore", chordServiceServer.BulkStore),
		unaryMethod("StoreReplicas", chordServiceServer.StoreReplicas),
		unaryMethod("DeleteReplica", chordServiceServer.DeleteReplica),
		unaryMethod("NotifyPredecessorLeaving", chordServiceServer.NotifyPredecessorLeaving),
		unaryMethod("NotifySuccessorLeaving", chordServiceServer.NotifySuccessorLeaving),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chord/v1/chord.proto",
}
