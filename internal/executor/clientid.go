package executor

import (
	"encoding/binary"
	"time"

	"github.com/jxskiss/base62"

	"swingbot/internal/domain"
)

var rolePrefix = map[domain.OrderRole]string{
	domain.RoleEntry:      "sbE",
	domain.RoleTakeProfit: "sbT",
	domain.RoleStop:       "sbS",
}

// NewClientOrderID builds a compact, unique client order ID for the broker's
// idempotency mechanism: a role prefix plus the base62-encoded submission
// timestamp in nanoseconds.
func NewClientOrderID(role domain.OrderRole) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(time.Now().UnixNano()))
	prefix, ok := rolePrefix[role]
	if !ok {
		prefix = "sbX"
	}
	return prefix + "-" + base62.EncodeToString(buf[:])
}
