package transport

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/zde37/chordring/internal/chord"
	"github.com/zde37/chordring/pkg"
)

// Compile-time check to ensure GRPCClient implements chord.RemoteClient
var _ chord.RemoteClient = (*GRPCClient)(nil)

// GRPCClient manages connections to remote Chord nodes.
type GRPCClient struct {
	logger    *pkg.Logger
	authToken string // Authentication token for node-to-node communication

	// Connection pool
	connections map[string]*grpc.ClientConn
	connMu      sync.RWMutex

	// Default timeout for RPC calls whose context has no deadline
	timeout time.Duration

	dialer func(ctx context.Context, address string) (net.Conn, error)
}

// ClientOption configures a GRPCClient.
type ClientOption func(*GRPCClient)

// WithDialer replaces the TCP dialer, e.g. with an in-memory one.
func WithDialer(dialer func(ctx context.Context, address string) (net.Conn, error)) ClientOption {
	return func(c *GRPCClient) {
		c.dialer = dialer
	}
}

// NewGRPCClient creates a new gRPC client.
func NewGRPCClient(logger *pkg.Logger, authToken string, timeout time.Duration, opts ...ClientOption) *GRPCClient {
	if logger == nil {
		logger = pkg.NewNopLogger()
	}
	c := &GRPCClient{
		logger:      logger.WithFields(pkg.Fields{"component": "grpc_client"}),
		authToken:   authToken,
		connections: make(map[string]*grpc.ClientConn),
		timeout:     timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// getConnection returns a connection to the given address, creating one if needed.
func (c *GRPCClient) getConnection(address string) (*grpc.ClientConn, error) {
	c.connMu.RLock()
	conn, exists := c.connections[address]
	c.connMu.RUnlock()

	if exists {
		return conn, nil
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists = c.connections[address]; exists {
		return conn, nil
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(wireCodec{}),
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
		grpc.WithUnaryInterceptor(outgoingMetadataInterceptor(c.authToken)),
	}
	if c.dialer != nil {
		opts = append(opts, grpc.WithContextDialer(c.dialer))
	}

	// passthrough hands the address to the dialer untouched
	newConn, err := grpc.NewClient("passthrough:///"+address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", address, err)
	}

	c.connections[address] = newConn
	c.logger.Debug("created new gRPC connection", pkg.Fields{
		"address": address,
	})

	return newConn, nil
}

// dropConnection closes the pooled connection to address.
func (c *GRPCClient) dropConnection(address string) {
	c.connMu.Lock()
	conn, exists := c.connections[address]
	delete(c.connections, address)
	c.connMu.Unlock()

	if exists {
		if err := conn.Close(); err != nil {
			c.logger.Debug("error closing connection", pkg.Fields{"address": address, "error": err})
		}
	}
}

// invoke calls method on address, applying the default timeout and
// translating failures back into chord errors.
func (c *GRPCClient) invoke(ctx context.Context, address, method string, req, resp wireMessage) error {
	if address == "" {
		return fmt.Errorf("%w: empty address", chord.ErrNodeUnreachable)
	}

	conn, err := c.getConnection(address)
	if err != nil {
		return fmt.Errorf("%w: %v", chord.ErrNodeUnreachable, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := conn.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		err = fromStatus(address, err)
		if errors.Is(err, chord.ErrNodeUnreachable) {
			c.dropConnection(address)
		}
		return fmt.Errorf("%s RPC failed: %w", method, err)
	}
	return nil
}

// FindSuccessor calls the FindSuccessor RPC on a remote node.
func (c *GRPCClient) FindSuccessor(ctx context.Context, address string, id *big.Int, hops int) (*chord.NodeAddress, int, error) {
	resp := &nodeMessage{}
	if err := c.invoke(ctx, address, "FindSuccessor", &idRequest{id: idToWire(id), hops: int64(hops)}, resp); err != nil {
		return nil, hops, err
	}
	if resp.node == nil {
		return nil, hops, fmt.Errorf("FindSuccessor RPC returned no node")
	}
	return wireToNode(resp.node), int(resp.hops), nil
}

// ClosestPrecedingFinger calls the ClosestPrecedingFinger RPC on a remote node.
func (c *GRPCClient) ClosestPrecedingFinger(ctx context.Context, address string, id *big.Int) (*chord.NodeAddress, error) {
	resp := &nodeMessage{}
	if err := c.invoke(ctx, address, "ClosestPrecedingFinger", &idRequest{id: idToWire(id)}, resp); err != nil {
		return nil, err
	}
	return wireToNode(resp.node), nil
}

// GetPredecessor calls the GetPredecessor RPC on a remote node. A nil
// node with a nil error means the remote has no predecessor.
func (c *GRPCClient) GetPredecessor(ctx context.Context, address string) (*chord.NodeAddress, error) {
	resp := &nodeMessage{}
	if err := c.invoke(ctx, address, "GetPredecessor", &empty{}, resp); err != nil {
		return nil, err
	}
	return wireToNode(resp.node), nil
}

// Notify calls the Notify RPC on a remote node.
func (c *GRPCClient) Notify(ctx context.Context, address string, node *chord.NodeAddress) error {
	return c.invoke(ctx, address, "Notify", &nodeMessage{node: nodeToWire(node)}, &empty{})
}

// GetSuccessorList calls the GetSuccessorList RPC on a remote node.
func (c *GRPCClient) GetSuccessorList(ctx context.Context, address string) ([]*chord.NodeAddress, error) {
	resp := &nodeList{}
	if err := c.invoke(ctx, address, "GetSuccessorList", &empty{}, resp); err != nil {
		return nil, err
	}
	return wireToNodes(resp.nodes), nil
}

// Ping calls the Ping RPC on a remote node.
func (c *GRPCClient) Ping(ctx context.Context, address string) error {
	return c.invoke(ctx, address, "Ping", &empty{}, &empty{})
}

// GetNodeInfo calls the GetNodeInfo RPC on a remote node.
func (c *GRPCClient) GetNodeInfo(ctx context.Context, address string) (*chord.NodeInfo, error) {
	resp := &nodeInfoReply{}
	if err := c.invoke(ctx, address, "GetNodeInfo", &empty{}, resp); err != nil {
		return nil, err
	}
	return &chord.NodeInfo{
		Node:              wireToNode(resp.node),
		M:                 int(resp.m),
		SuccessorListSize: int(resp.successorListSize),
		State:             chord.NodeState(resp.state),
		KeyCount:          int(resp.keyCount),
		ReplicaCount:      int(resp.replicaCount),
	}, nil
}

// Get reads a key from the node that owns it.
func (c *GRPCClient) Get(ctx context.Context, address string, key string) ([]byte, bool, error) {
	resp := &valueReply{}
	if err := c.invoke(ctx, address, "Get", &keyRequest{key: key}, resp); err != nil {
		return nil, false, err
	}
	return resp.value, resp.found, nil
}

// Put writes a key on the node that owns it.
func (c *GRPCClient) Put(ctx context.Context, address string, key string, value []byte) error {
	return c.invoke(ctx, address, "Put", &keyRequest{key: key, value: value}, &empty{})
}

// Delete removes a key from the node that owns it.
func (c *GRPCClient) Delete(ctx context.Context, address string, key string) error {
	return c.invoke(ctx, address, "Delete", &keyRequest{key: key}, &empty{})
}

// TransferKeys fetches the remote's primaries in (start, end].
func (c *GRPCClient) TransferKeys(ctx context.Context, address string, start, end *big.Int) ([]chord.KeyValue, error) {
	resp := &rangeMessage{}
	req := &rangeMessage{start: idToWire(start), end: idToWire(end)}
	if err := c.invoke(ctx, address, "TransferKeys", req, resp); err != nil {
		return nil, err
	}
	return wireToItems(resp.items), nil
}

// DeleteTransferredKeys releases the remote's primaries in (start, end] and
// returns what the remote holds for the range afterwards.
func (c *GRPCClient) DeleteTransferredKeys(ctx context.Context, address string, start, end *big.Int) ([]chord.KeyValue, error) {
	resp := &rangeMessage{}
	req := &rangeMessage{start: idToWire(start), end: idToWire(end)}
	if err := c.invoke(ctx, address, "DeleteTransferredKeys", req, resp); err != nil {
		return nil, err
	}
	return wireToItems(resp.items), nil
}

// BulkStore hands primaries to the remote.
func (c *GRPCClient) BulkStore(ctx context.Context, address string, items []chord.KeyValue) error {
	return c.invoke(ctx, address, "BulkStore", &rangeMessage{items: itemsToWire(items)}, &empty{})
}

// StoreReplicas replaces the remote's replicas for (start, end] with items.
func (c *GRPCClient) StoreReplicas(ctx context.Context, address string, start, end *big.Int, items []chord.KeyValue) error {
	req := &rangeMessage{
		start: idToWire(start),
		end:   idToWire(end),
		items: itemsToWire(items),
		count: int64(len(items)),
	}
	return c.invoke(ctx, address, "StoreReplicas", req, &empty{})
}

// DeleteReplica drops one replica on the remote.
func (c *GRPCClient) DeleteReplica(ctx context.Context, address string, key string) error {
	return c.invoke(ctx, address, "DeleteReplica", &keyRequest{key: key}, &empty{})
}

// NotifyPredecessorLeaving tells our predecessor we are leaving and which
// successors to link to.
func (c *GRPCClient) NotifyPredecessorLeaving(ctx context.Context, address string, leaving *chord.NodeAddress, successors []*chord.NodeAddress) error {
	req := &leavingRequest{leaving: nodeToWire(leaving), nodes: nodesToWire(successors)}
	return c.invoke(ctx, address, "NotifyPredecessorLeaving", req, &empty{})
}

// NotifySuccessorLeaving tells our successor we are leaving and who its
// new predecessor is.
func (c *GRPCClient) NotifySuccessorLeaving(ctx context.Context, address string, leaving, newPredecessor *chord.NodeAddress) error {
	req := &leavingRequest{leaving: nodeToWire(leaving)}
	if w := nodeToWire(newPredecessor); w != nil {
		req.nodes = []*wireNode{w}
	}
	return c.invoke(ctx, address, "NotifySuccessorLeaving", req, &empty{})
}

// Close closes all pooled connections.
func (c *GRPCClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	var errs []error
	for addr, conn := range c.connections {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", addr, err))
		}
		delete(c.connections, addr)
	}
	return errors.Join(errs...)
}
