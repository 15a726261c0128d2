package orders

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// NumberGenerator hands out order numbers. Implementations must be safe
// for concurrent use and never repeat a value.
type NumberGenerator interface {
	Next() string
}

// SnowflakeNumbers yields "ORD-<snowflake id>". Ids are unique per node and
// time-ordered; each replica needs its own node id (ORDER_NODE_ID).
type SnowflakeNumbers struct {
	node *snowflake.Node
}

// NewSnowflakeNumbers fails for a node id outside [0, 1023].
func NewSnowflakeNumbers(nodeID int64) (*SnowflakeNumbers, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeNumbers{node: node}, nil
}

// Next is safe for concurrent use; the node serializes generation.
func (g *SnowflakeNumbers) Next() string {
	return "ORD-" + g.node.Generate().String()
}
