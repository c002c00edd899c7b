package transport

import (
	"math/big"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zde37/chordring/internal/chord"
)

// Wire messages of chord.v1.ChordService. Field numbers are part of the
// protocol and must not be reused.

// wireNode identifies a ring member.
type wireNode struct {
	id   []byte // big-endian identifier
	host string
	port int64
}

func (m *wireNode) appendWire(b []byte) []byte {
	b = appendBytesField(b, 1, m.id)
	b = appendStringField(b, 2, m.host)
	return appendVarintField(b, 3, m.port)
}

func (m *wireNode) readField(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
	switch num {
	case 1:
		m.id, n, err = consumeBytes(typ, b)
	case 2:
		m.host, n, err = consumeString(typ, b)
	case 3:
		m.port, n, err = consumeVarint(typ, b)
	default:
		return skipField(num, typ, b)
	}
	return n, err
}

// empty is the request or response of calls without arguments or results.
type empty struct{}

func (m *empty) appendWire(b []byte) []byte { return b }

func (m *empty) readField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	return skipField(num, typ, b)
}

// idRequest carries an identifier and the hops a lookup has taken so far.
type idRequest struct {
	id   []byte
	hops int64
}

func (m *idRequest) appendWire(b []byte) []byte {
	b = appendBytesField(b, 1, m.id)
	return appendVarintField(b, 2, m.hops)
}

func (m *idRequest) readField(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
	switch num {
	case 1:
		m.id, n, err = consumeBytes(typ, b)
	case 2:
		m.hops, n, err = consumeVarint(typ, b)
	default:
		return skipField(num, typ, b)
	}
	return n, err
}

// nodeMessage carries an optional node, plus the hop count for lookups.
type nodeMessage struct {
	node *wireNode
	hops int64
}

func (m *nodeMessage) appendWire(b []byte) []byte {
	if m.node != nil {
		b = appendMessageField(b, 1, m.node)
	}
	return appendVarintField(b, 2, m.hops)
}

func (m *nodeMessage) readField(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
	switch num {
	case 1:
		m.node = &wireNode{}
		n, err = consumeMessage(typ, b, m.node)
	case 2:
		m.hops, n, err = consumeVarint(typ, b)
	default:
		return skipField(num, typ, b)
	}
	return n, err
}

// nodeList is a successor list.
type nodeList struct {
	nodes []*wireNode
}

func (m *nodeList) appendWire(b []byte) []byte {
	for _, node := range m.nodes {
		b = appendMessageField(b, 1, node)
	}
	return b
}

func (m *nodeList) readField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if num != 1 {
		return skipField(num, typ, b)
	}
	node := &wireNode{}
	n, err := consumeMessage(typ, b, node)
	if err == nil && n >= 0 {
		m.nodes = append(m.nodes, node)
	}
	return n, err
}

// nodeInfoReply describes a node and the ring parameters it runs with.
type nodeInfoReply struct {
	node              *wireNode
	m                 int64
	successorListSize int64
	state             int64
	keyCount          int64
	replicaCount      int64
}

func (m *nodeInfoReply) appendWire(b []byte) []byte {
	if m.node != nil {
		b = appendMessageField(b, 1, m.node)
	}
	b = appendVarintField(b, 2, m.m)
	b = appendVarintField(b, 3, m.successorListSize)
	b = appendVarintField(b, 4, m.state)
	b = appendVarintField(b, 5, m.keyCount)
	return appendVarintField(b, 6, m.replicaCount)
}

func (m *nodeInfoReply) readField(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
	switch num {
	case 1:
		m.node = &wireNode{}
		n, err = consumeMessage(typ, b, m.node)
	case 2:
		m.m, n, err = consumeVarint(typ, b)
	case 3:
		m.successorListSize, n, err = consumeVarint(typ, b)
	case 4:
		m.state, n, err = consumeVarint(typ, b)
	case 5:
		m.keyCount, n, err = consumeVarint(typ, b)
	case 6:
		m.replicaCount, n, err = consumeVarint(typ, b)
	default:
		return skipField(num, typ, b)
	}
	return n, err
}

// keyRequest addresses one key; value is only set for writes.
type keyRequest struct {
	key   string
	value []byte
}

func (m *keyRequest) appendWire(b []byte) []byte {
	b = appendStringField(b, 1, m.key)
	return appendBytesField(b, 2, m.value)
}

func (m *keyRequest) readField(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
	switch num {
	case 1:
		m.key, n, err = consumeString(typ, b)
	case 2:
		m.value, n, err = consumeBytes(typ, b)
	default:
		return skipField(num, typ, b)
	}
	return n, err
}

type valueReply struct {
	value []byte
	found bool
}

func (m *valueReply) appendWire(b []byte) []byte {
	b = appendBytesField(b, 1, m.value)
	return appendBoolField(b, 2, m.found)
}

func (m *valueReply) readField(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
	switch num {
	case 1:
		m.value, n, err = consumeBytes(typ, b)
	case 2:
		var v int64
		v, n, err = consumeVarint(typ, b)
		m.found = v != 0
	default:
		return skipField(num, typ, b)
	}
	return n, err
}

type wireItem struct {
	key   string
	value []byte
}

func (m *wireItem) appendWire(b []byte) []byte {
	b = appendStringField(b, 1, m.key)
	return appendBytesField(b, 2, m.value)
}

func (m *wireItem) readField(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
	switch num {
	case 1:
		m.key, n, err = consumeString(typ, b)
	case 2:
		m.value, n, err = consumeBytes(typ, b)
	default:
		return skipField(num, typ, b)
	}
	return n, err
}

// rangeMessage carries an identifier range (start, end] with entries in it.
// Handovers use it without a range and count-only replies without items.
type rangeMessage struct {
	start []byte
	end   []byte
	items []*wireItem
	count int64
}

func (m *rangeMessage) appendWire(b []byte) []byte {
	b = appendBytesField(b, 1, m.start)
	b = appendBytesField(b, 2, m.end)
	for _, item := range m.items {
		b = appendMessageField(b, 3, item)
	}
	return appendVarintField(b, 4, m.count)
}

func (m *rangeMessage) readField(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
	switch num {
	case 1:
		m.start, n, err = consumeBytes(typ, b)
	case 2:
		m.end, n, err = consumeBytes(typ, b)
	case 3:
		item := &wireItem{}
		n, err = consumeMessage(typ, b, item)
		if err == nil && n >= 0 {
			m.items = append(m.items, item)
		}
	case 4:
		m.count, n, err = consumeVarint(typ, b)
	default:
		return skipField(num, typ, b)
	}
	return n, err
}

// leavingRequest announces a departing node along with the links the
// receiver should take over.
type leavingRequest struct {
	leaving *wireNode
	nodes   []*wireNode
}

func (m *leavingRequest) appendWire(b []byte) []byte {
	if m.leaving != nil {
		b = appendMessageField(b, 1, m.leaving)
	}
	for _, node := range m.nodes {
		b = appendMessageField(b, 2, node)
	}
	return b
}

func (m *leavingRequest) readField(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
	switch num {
	case 1:
		m.leaving = &wireNode{}
		n, err = consumeMessage(typ, b, m.leaving)
	case 2:
		node := &wireNode{}
		n, err = consumeMessage(typ, b, node)
		if err == nil && n >= 0 {
			m.nodes = append(m.nodes, node)
		}
	default:
		return skipField(num, typ, b)
	}
	return n, err
}

// Helper functions for type conversion

func idToWire(id *big.Int) []byte {
	if id == nil {
		return nil
	}
	return id.Bytes()
}

func wireToID(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// nodeToWire converts a NodeAddress to its wire form.
func nodeToWire(addr *chord.NodeAddress) *wireNode {
	if addr.IsNil() {
		return nil
	}
	return &wireNode{
		id:   idToWire(addr.ID),
		host: addr.Host,
		port: int64(addr.Port),
	}
}

// wireToNode converts a wire node back to a NodeAddress.
func wireToNode(node *wireNode) *chord.NodeAddress {
	if node == nil {
		return nil
	}
	return chord.NewNodeAddress(wireToID(node.id), node.host, int(node.port))
}

func nodesToWire(nodes []*chord.NodeAddress) []*wireNode {
	out := make([]*wireNode, 0, len(nodes))
	for _, n := range nodes {
		if w := nodeToWire(n); w != nil {
			out = append(out, w)
		}
	}
	return out
}

func wireToNodes(nodes []*wireNode) []*chord.NodeAddress {
	out := make([]*chord.NodeAddress, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, wireToNode(n))
	}
	return out
}

func itemsToWire(items []chord.KeyValue) []*wireItem {
	out := make([]*wireItem, len(items))
	for i, item := range items {
		out[i] = &wireItem{key: item.Key, value: item.Value}
	}
	return out
}

func wireToItems(items []*wireItem) []chord.KeyValue {
	out := make([]chord.KeyValue, len(items))
	for i, item := range items {
		out[i] = chord.KeyValue{Key: item.key, Value: item.value}
	}
	return out
}
