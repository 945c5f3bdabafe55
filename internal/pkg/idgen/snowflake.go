package idgen

import (
	"hash/fnv"
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Initialize sets up the Snowflake ID generator with a node ID
func Initialize(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// NodeFromEnv picks a node ID for this process. HASURA_AUTH_NODE_ID wins when
// set; otherwise the hostname is hashed into the valid node range so that
// replicas behind the same service get distinct generators.
func NodeFromEnv() int64 {
	if v := os.Getenv("HASURA_AUTH_NODE_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id >= 0 && id < 1024 {
			return id
		}
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return 1
	}

	h := fnv.New32a()
	h.Write([]byte(hostname))
	return int64(h.Sum32() % 1024)
}

// GenerateID generates a new Snowflake ID as a string
func GenerateID() string {
	if node == nil {
		// Initialize with default node ID if not already initialized
		_ = Initialize(NodeFromEnv())
	}
	return node.Generate().String()
}
