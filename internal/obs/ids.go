package obs

import (
	"strconv"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/yanun0323/errors"
)

// Sequence creates monotonically increasing ids with a fixed prefix.
// It is deterministic for a given seed, which replay relies on.
type Sequence struct {
	prefix string
	next   uint64
}

// NewSequence returns a sequence whose first id is seed+1.
func NewSequence(prefix string, seed uint64) *Sequence {
	return &Sequence{prefix: prefix, next: seed}
}

// Next returns the next raw value.
func (s *Sequence) Next() uint64 {
	if s == nil {
		return 0
	}
	return atomic.AddUint64(&s.next, 1)
}

// NextID returns the next id, e.g. "ord-000042".
func (s *Sequence) NextID() string {
	n := s.Next()
	id := strconv.FormatUint(n, 10)
	if pad := 6 - len(id); pad > 0 {
		id = "000000"[:pad] + id
	}
	if s.prefix == "" {
		return id
	}
	return s.prefix + "-" + id
}

// Snowflake creates time-ordered ids unique across processes sharing a
// node number. Used outside replay.
type Snowflake struct {
	prefix string
	node   *snowflake.Node
}

// NewSnowflake creates a generator for node (0-1023).
func NewSnowflake(prefix string, node int64) (*Snowflake, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, errors.Wrapf(err, "create snowflake node %d", node)
	}
	return &Snowflake{prefix: prefix, node: n}, nil
}

func (s *Snowflake) NextID() string {
	id := s.node.Generate().String()
	if s.prefix == "" {
		return id
	}
	return s.prefix + "-" + id
}
