package domain

// Role identifies which API surface a node endpoint serves.
type Role string

const (
	// RoleRPC is the CometBFT RPC surface (/block, /status, /validators).
	RoleRPC Role = "rpc"
	// RoleREST is the Cosmos-SDK REST/LCD surface.
	RoleREST Role = "rest"
)
