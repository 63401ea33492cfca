package dominion

import "github.com/xraph/dominion/id"

// ServerID identifies one node process contending for dominance.
type ServerID = id.ServerID

// NewServerID generates a fresh node identity.
func NewServerID() ServerID { return id.NewServerID() }
