package analytics

import (
	"fmt"
	"os"

	"github.com/oklog/ulid/v2"
)

// NewConsumerID returns a group-unique consumer name. Hostname plus pid make
// the owning process recognizable in XINFO CONSUMERS output; the ULID suffix
// keeps names unique across restarts so a stale pending entry is never
// mistaken for the live consumer's.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "rollup"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), ulid.Make().String())
}
