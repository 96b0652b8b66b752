package utilities

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// IDGenerator hands out snowflake ids for one node.
type IDGenerator struct {
	mu   sync.Mutex
	node *snowflake.Node
}

// NewIDGenerator builds a generator for nodeID. Invalid node ids fall back
// to node 1 so ids are still produced.
func NewIDGenerator(nodeID int64) *IDGenerator {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		node, _ = snowflake.NewNode(1)
	}
	return &IDGenerator{node: node}
}

// Next returns the next snowflake id as a string. A nil generator returns a
// KSUID instead.
func (g *IDGenerator) Next() string {
	if g == nil || g.node == nil {
		return NewKSUID()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.node.Generate().String()
}
