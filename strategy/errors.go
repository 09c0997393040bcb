package strategy

import (
	"errors"
	"fmt"

	"github.com/arloliu/rshuffle/types"
)

// ErrUnknownRouter indicates an unknown routing policy name.
var ErrUnknownRouter = errors.New("unknown routing policy")

// Routing policy names accepted by NewRouter.
const (
	RoutingHash       = "hash"
	RoutingRoundRobin = "round_robin"
)

// NewRouter returns the router registered under name. An empty name selects
// RoutingHash.
func NewRouter(name string) (types.BlockRouter, error) {
	switch name {
	case "", RoutingHash:
		return NewHashRouter(0), nil
	case RoutingRoundRobin:
		return NewRoundRobinRouter(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRouter, name)
	}
}
