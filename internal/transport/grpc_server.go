package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zde37/chordring/internal/chord"
	"github.com/zde37/chordring/pkg"
)

const maxMessageSize = 16 * 1024 * 1024 // 16MB, room for range handovers

// GRPCServer wraps a ChordNode and serves the ChordService.
type GRPCServer struct {
	node      *chord.ChordNode
	server    *grpc.Server
	logger    *pkg.Logger
	authToken string // Authentication token for node-to-node communication

	// Server address
	address  string
	listener net.Listener
	mu       sync.Mutex
}

var _ chordServiceServer = (*GRPCServer)(nil)

// NewGRPCServer creates a new gRPC server for the given ChordNode.
func NewGRPCServer(node *chord.ChordNode, address string, authToken string, logger *pkg.Logger) (*GRPCServer, error) {
	if node == nil {
		return nil, fmt.Errorf("node cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &GRPCServer{
		node:      node,
		address:   address,
		authToken: authToken,
		logger:    logger.WithFields(pkg.Fields{"component": "grpc_server"}),
	}

	return s, nil
}

// Start listens on the configured address and starts serving.
func (s *GRPCServer) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// Serve starts serving on an existing listener.
func (s *GRPCServer) Serve(listener net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		listener.Close()
		return fmt.Errorf("server already started")
	}

	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.ForceServerCodec(wireCodec{}),
		grpc.ChainUnaryInterceptor(
			RequestLogInterceptor(s.logger),
			AuthInterceptor(s.authToken),
		),
	}

	s.listener = listener
	s.server = grpc.NewServer(opts...)
	s.server.RegisterService(&chordServiceDesc, s)

	s.logger.Info("Starting gRPC server", pkg.Fields{"address": listener.Addr().String()})

	server := s.server
	go func() {
		if err := server.Serve(listener); err != nil {
			s.logger.Error("gRPC server error", pkg.Fields{"error": err})
		}
	}()

	return nil
}

// Addr returns the address the server listens on.
func (s *GRPCServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the gRPC server.
func (s *GRPCServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Stopping gRPC server", nil)

	if s.server != nil {
		s.server.GracefulStop()
		s.server = nil
	}
	s.listener = nil

	return nil
}

func (s *GRPCServer) FindSuccessor(ctx context.Context, req *idRequest) (*nodeMessage, error) {
	successor, hops, err := s.node.FindSuccessor(ctx, wireToID(req.id), int(req.hops))
	if err != nil {
		return nil, toStatus(err)
	}
	return &nodeMessage{node: nodeToWire(successor), hops: int64(hops)}, nil
}

func (s *GRPCServer) ClosestPrecedingFinger(ctx context.Context, req *idRequest) (*nodeMessage, error) {
	if err := s.node.Ping(); err != nil {
		return nil, toStatus(err)
	}
	node := s.node.ClosestPrecedingNode(wireToID(req.id))
	return &nodeMessage{node: nodeToWire(node)}, nil
}

func (s *GRPCServer) GetPredecessor(ctx context.Context, req *empty) (*nodeMessage, error) {
	predecessor, err := s.node.GetPredecessor()
	if err != nil {
		return nil, toStatus(err)
	}
	return &nodeMessage{node: nodeToWire(predecessor)}, nil
}

func (s *GRPCServer) Notify(ctx context.Context, req *nodeMessage) (*empty, error) {
	if req.node == nil {
		return nil, status.Error(codes.InvalidArgument, "node cannot be nil")
	}
	if err := s.node.Notify(wireToNode(req.node)); err != nil {
		return nil, toStatus(err)
	}
	return &empty{}, nil
}

func (s *GRPCServer) GetSuccessorList(ctx context.Context, req *empty) (*nodeList, error) {
	successors, err := s.node.GetSuccessorList()
	if err != nil {
		return nil, toStatus(err)
	}
	return &nodeList{nodes: nodesToWire(successors)}, nil
}

func (s *GRPCServer) Ping(ctx context.Context, req *empty) (*empty, error) {
	if err := s.node.Ping(); err != nil {
		return nil, toStatus(err)
	}
	return &empty{}, nil
}

// GetNodeInfo answers in every state so joiners can check ring parameters
// and operators can inspect idle or leaving nodes.
func (s *GRPCServer) GetNodeInfo(ctx context.Context, req *empty) (*nodeInfoReply, error) {
	info := s.node.Info(ctx)
	return &nodeInfoReply{
		node:              nodeToWire(info.Node),
		m:                 int64(info.M),
		successorListSize: int64(info.SuccessorListSize),
		state:             int64(info.State),
		keyCount:          int64(info.KeyCount),
		replicaCount:      int64(info.ReplicaCount),
	}, nil
}

// Get serves a read for a key this node owns.
func (s *GRPCServer) Get(ctx context.Context, req *keyRequest) (*valueReply, error) {
	value, found, err := s.node.GetLocal(ctx, req.key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &valueReply{value: value, found: found}, nil
}

func (s *GRPCServer) Put(ctx context.Context, req *keyRequest) (*empty, error) {
	if err := s.node.PutLocal(ctx, req.key, req.value); err != nil {
		return nil, toStatus(err)
	}
	return &empty{}, nil
}

func (s *GRPCServer) Delete(ctx context.Context, req *keyRequest) (*empty, error) {
	if err := s.node.DeleteLocal(ctx, req.key); err != nil {
		return nil, toStatus(err)
	}
	return &empty{}, nil
}

func (s *GRPCServer) TransferKeys(ctx context.Context, req *rangeMessage) (*rangeMessage, error) {
	items, err := s.node.TransferKeys(ctx, wireToID(req.start), wireToID(req.end))
	if err != nil {
		return nil, toStatus(err)
	}
	return &rangeMessage{items: itemsToWire(items), count: int64(len(items))}, nil
}

func (s *GRPCServer) DeleteTransferredKeys(ctx context.Context, req *rangeMessage) (*rangeMessage, error) {
	items, err := s.node.DeleteTransferredKeys(ctx, wireToID(req.start), wireToID(req.end))
	if err != nil {
		return nil, toStatus(err)
	}
	return &rangeMessage{items: itemsToWire(items), count: int64(len(items))}, nil
}

func (s *GRPCServer) BulkStore(ctx context.Context, req *rangeMessage) (*empty, error) {
	if err := s.node.BulkStore(ctx, wireToItems(req.items)); err != nil {
		return nil, toStatus(err)
	}
	return &empty{}, nil
}

func (s *GRPCServer) StoreReplicas(ctx context.Context, req *rangeMessage) (*empty, error) {
	err := s.node.StoreReplicas(ctx, wireToID(req.start), wireToID(req.end), wireToItems(req.items))
	if err != nil {
		return nil, toStatus(err)
	}
	return &empty{}, nil
}

func (s *GRPCServer) DeleteReplica(ctx context.Context, req *keyRequest) (*empty, error) {
	if req.key == "" {
		return nil, toStatus(chord.ErrEmptyKey)
	}
	if err := s.node.DeleteReplica(ctx, req.key); err != nil {
		return nil, toStatus(err)
	}
	return &empty{}, nil
}

// NotifyPredecessorLeaving handles notification that our successor is leaving.
func (s *GRPCServer) NotifyPredecessorLeaving(ctx context.Context, req *leavingRequest) (*empty, error) {
	if req.leaving == nil {
		return nil, status.Error(codes.InvalidArgument, "leaving node cannot be nil")
	}
	err := s.node.HandlePredecessorLeaving(ctx, wireToNode(req.leaving), wireToNodes(req.nodes))
	if err != nil {
		return nil, toStatus(err)
	}
	return &empty{}, nil
}

// NotifySuccessorLeaving handles notification that our predecessor is
// leaving. The first listed node, if any, is its predecessor.
func (s *GRPCServer) NotifySuccessorLeaving(ctx context.Context, req *leavingRequest) (*empty, error) {
	if req.leaving == nil {
		return nil, status.Error(codes.InvalidArgument, "leaving node cannot be nil")
	}

	var newPredecessor *chord.NodeAddress
	if len(req.nodes) > 0 {
		newPredecessor = wireToNode(req.nodes[0])
	}

	err := s.node.HandleSuccessorLeaving(ctx, wireToNode(req.leaving), newPredecessor)
	if err != nil {
		return nil, toStatus(err)
	}
	return &empty{}, nil
}
