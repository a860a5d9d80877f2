package chooser

import (
	"fmt"

	"prequal/internal/probe"
	"prequal/internal/registry"
)

// New constructs the Chooser named by algorithm, grounded on the teacher's
// strategy.New factory-by-name pattern. Valid names: "prequal" (default),
// "round_robin", "random", "least_latency", "least_rif", "p2c_latency",
// "p2c_rif".
func New(algorithm string, reg registry.Registry, pool *probe.Pool) (Chooser, error) {
	switch algorithm {
	case "prequal", "":
		return NewPrequal(reg, pool), nil
	case "round_robin":
		return NewRoundRobin(reg), nil
	case "random":
		return NewRandom(reg), nil
	case "least_latency":
		return NewLeastLatency(reg, pool), nil
	case "least_rif":
		return NewLeastRIF(reg, pool), nil
	case "p2c_latency":
		return NewP2CLatency(reg, pool), nil
	case "p2c_rif":
		return NewP2CRIF(reg, pool), nil
	default:
		return nil, fmt.Errorf("chooser: unknown algorithm %q", algorithm)
	}
}
