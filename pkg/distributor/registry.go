package distributor

import "time"

// NodeStatus classifies membership health.
type NodeStatus string

const (
	NodeActive      NodeStatus = "ACTIVE"
	NodePartitioned NodeStatus = "PARTITIONED"
	NodeInactive    NodeStatus = "INACTIVE"
)

// NodeRecord is a registered cluster member.
type NodeRecord struct {
	ID            string
	Address       string
	Status        NodeStatus
	RegisteredAt  time.Time
	LastHeartbeat time.Time
}

// expired reports whether the node has missed node_timeout worth of
// heartbeats and should be considered INACTIVE.
func (n NodeRecord) expired(now time.Time, nodeTimeout time.Duration) bool {
	return now.Sub(n.LastHeartbeat) > nodeTimeout
}

// partitioned reports whether the node has missed enough heartbeats to be
// considered PARTITIONED (but not yet timed out entirely).
func (n NodeRecord) partitioned(now time.Time, heartbeatInterval time.Duration, threshold int) bool {
	return now.Sub(n.LastHeartbeat) > heartbeatInterval*time.Duration(threshold)
}
