package common

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	idNode     *snowflake.Node
	idNodeOnce sync.Once
)

// SetIDNode selects the snowflake node number. It must be called before the
// first UUIDint64 call to take effect.
func SetIDNode(n int64) {
	idNodeOnce.Do(func() {
		node, err := snowflake.NewNode(n)
		if err != nil {
			panic(err)
		}
		idNode = node
	})
}

// UUIDint64 returns a time ordered, cluster unique int64 id.
func UUIDint64() int64 {
	SetIDNode(1)
	return idNode.Generate().Int64()
}

