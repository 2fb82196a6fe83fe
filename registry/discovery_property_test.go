package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/types"
)

var capabilityUniverse = []string{"ml", "gpu", "nlp", "vision", "audio", "planning"}

func capsFromMask(mask uint) types.CapabilitySet {
	s := types.NewCapabilitySet()
	for i, tag := range capabilityUniverse {
		if mask&(1<<uint(i)) != 0 {
			s[tag] = struct{}{}
		}
	}
	return s
}

// Discovery correctness: an agent is returned iff the queried capabilities
// are a subset of its declared set and its health meets the floor.
func TestProperty_DiscoveryCorrectness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("discover returns exactly the subset-matching agents", prop.ForAll(
		func(agentMasks []uint, queryMask uint) bool {
			r := NewAgentRegistry(zap.NewNop())
			ctx := context.Background()

			declared := make(map[string]types.CapabilitySet)
			for i, mask := range agentMasks {
				caps := capsFromMask(mask)
				if len(caps) == 0 {
					continue
				}
				id := fmt.Sprintf("agent-%d", i)
				rec := &AgentRecord{
					AgentID:      id,
					Capabilities: caps,
					Endpoint:     "http://localhost:9000/" + id,
				}
				if err := r.Register(ctx, rec); err != nil {
					t.Logf("register failed: %v", err)
					return false
				}
				declared[id] = caps
			}

			query := capsFromMask(queryMask)
			results := r.Discover(ctx, DiscoveryQuery{Capabilities: query})

			returned := make(map[string]bool, len(results))
			for _, rec := range results {
				returned[rec.AgentID] = true
			}

			for id, caps := range declared {
				want := caps.ContainsAll(query)
				if returned[id] != want {
					t.Logf("agent %s: declared=%v query=%v returned=%v want=%v",
						id, caps.List(), query.List(), returned[id], want)
					return false
				}
			}
			return len(returned) <= len(declared)
		},
		gen.SliceOf(gen.UIntRange(0, 63)),
		gen.UIntRange(0, 63),
	))

	properties.TestingRun(t)
}

// Discovery ordering: results are sorted by ascending load score, with the
// oldest registration first among equal loads.
func TestProperty_DiscoveryOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("results are sorted by load then registration age", prop.ForAll(
		func(loads []int) bool {
			r := NewAgentRegistry(zap.NewNop())
			ctx := context.Background()

			for i, load := range loads {
				id := fmt.Sprintf("agent-%d", i)
				rec := &AgentRecord{
					AgentID:      id,
					Capabilities: types.NewCapabilitySet("ml"),
					Endpoint:     "http://localhost:9000/" + id,
					LoadScore:    float64(load) / 100,
				}
				if err := r.Register(ctx, rec); err != nil {
					t.Logf("register failed: %v", err)
					return false
				}
			}

			results := r.Discover(ctx, DiscoveryQuery{Capabilities: types.NewCapabilitySet("ml")})
			for i := 1; i < len(results); i++ {
				prev, cur := results[i-1], results[i]
				if prev.LoadScore > cur.LoadScore {
					t.Logf("load order violated at %d: %v > %v", i, prev.LoadScore, cur.LoadScore)
					return false
				}
				if prev.LoadScore == cur.LoadScore && prev.RegisteredAt.After(cur.RegisteredAt) {
					t.Logf("registration-age tiebreak violated at %d", i)
					return false
				}
			}
			return len(results) == len(loads)
		},
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
