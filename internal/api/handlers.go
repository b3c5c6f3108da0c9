package api

import (
	"time"

	"dsm-storage-node/internal/node"
)

// handlers holds the shared Node reference every route dispatches
// against (teacher's handler-struct-over-package-state pattern, here
// made explicit rather than relying on globals).
type handlers struct {
	n         *node.Node
	startedAt time.Time
}
