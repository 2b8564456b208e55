package behavior

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"

	"github.com/yairfalse/threatforge/pkg/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Gate decides whether a behavior may run this tick. The performance
// governor implements it; Allow must be safe for concurrent use.
type Gate interface {
	Allow(impact domain.Impact) bool
}

// AllowAll is a gate that never skips.
type AllowAll struct{}

func (AllowAll) Allow(domain.Impact) bool { return true }

// Input is one tick's worth of work for a single threat.
type Input struct {
	ThreatID   string
	Tick       uint64
	DeltaTime  float64
	Components []*domain.ThreatComponent
	Behaviors  [][]*Instance // parallel to Components
	Gate       Gate
	Sim        SimulationContext
}

// Result summarises one tick of behavior updates.
type Result struct {
	Ran      int
	Skipped  int
	Faulted  int
	Active   int
	Faults   []domain.BehaviorFault
	Triggers []domain.EmergentTrigger

	// Potential is the mean reported potential per component id, over
	// behaviors that ran without faulting.
	Potential map[string]float64
}

// TotalPotential sums Potential across components in id order, so the
// float result is stable between runs.
func (r Result) TotalPotential() float64 {
	ids := make([]string, 0, len(r.Potential))
	for id := range r.Potential {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var sum float64
	for _, id := range ids {
		sum += r.Potential[id]
	}
	return sum
}

// Runner drives behavior updates for a threat.
type Runner struct {
	logger      *zap.Logger
	concurrency int
}

// NewRunner creates a runner. concurrency <= 1 runs every component
// sequentially on the caller's goroutine.
func NewRunner(logger *zap.Logger, concurrency int) (*Runner, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Runner{logger: logger, concurrency: concurrency}, nil
}

type componentResult struct {
	ran, skipped, faulted, active int
	faults                        []domain.BehaviorFault
	triggers                      []domain.EmergentTrigger
	potentialSum                  float64
	potentialN                    int
}

// Run updates every enabled behavior of every component, then returns
// once all have finished. Faults are isolated per behavior.
func (r *Runner) Run(in Input) Result {
	n := len(in.Components)
	gate := in.Gate
	if gate == nil {
		gate = AllowAll{}
	}

	siblings := make([]domain.ThreatComponent, n)
	for i, c := range in.Components {
		siblings[i] = c.Clone()
	}

	// Child sources are drawn in component order so results do not
	// depend on how groups are scheduled.
	sources := make([]*rand.Rand, n)
	for i := range in.Components {
		sources[i] = r.childSource(in, i)
	}

	results := make([]componentResult, n)
	runComponent := func(i int) {
		results[i] = r.runComponent(in, i, gate, siblings, sources[i])
	}

	groups := writeGroups(in.Behaviors)
	if r.concurrency <= 1 || len(groups) <= 1 {
		for i := 0; i < n; i++ {
			runComponent(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(r.concurrency)
		for _, members := range groups {
			g.Go(func() error {
				for _, i := range members {
					runComponent(i)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	out := Result{Potential: make(map[string]float64, n)}
	for i, cr := range results {
		out.Ran += cr.ran
		out.Skipped += cr.skipped
		out.Faulted += cr.faulted
		out.Active += cr.active
		out.Faults = append(out.Faults, cr.faults...)
		out.Triggers = append(out.Triggers, cr.triggers...)
		if cr.potentialN > 0 {
			out.Potential[in.Components[i].ID] = cr.potentialSum / float64(cr.potentialN)
		}
	}
	return out
}

func (r *Runner) childSource(in Input, i int) *rand.Rand {
	if in.Sim.Rand != nil {
		return rand.New(rand.NewPCG(in.Sim.Rand.Uint64(), in.Sim.Rand.Uint64()))
	}
	h := fnv.New64a()
	h.Write([]byte(in.ThreatID))
	h.Write([]byte(in.Components[i].ID))
	return rand.New(rand.NewPCG(in.Tick, h.Sum64()))
}

func (r *Runner) runComponent(in Input, i int, gate Gate, siblings []domain.ThreatComponent, src *rand.Rand) componentResult {
	var cr componentResult
	c := in.Components[i]
	if i >= len(in.Behaviors) {
		return cr
	}

	tc := &TickContext{
		DeltaTime: in.DeltaTime,
		Tick:      in.Tick,
		Component: c,
		Rand:      src,
		Nearby:    in.Sim.Nearby,
		env:       in.Sim.Environment,
		siblings:  siblings,
		triggers:  &cr.triggers,
	}

	for _, inst := range in.Behaviors[i] {
		if inst.Disabled {
			continue
		}
		cr.active++
		if !gate.Allow(inst.Impact) {
			cr.skipped++
			continue
		}

		err, panicked := invoke(inst, in.DeltaTime, tc)
		if err != nil {
			inst.Disabled = true
			cr.faulted++
			fault := domain.BehaviorFault{
				ThreatID:     in.ThreatID,
				ComponentID:  c.ID,
				TypeID:       c.TypeID,
				BehaviorKind: inst.Kind,
				Tick:         in.Tick,
				Message:      err.Error(),
				Panicked:     panicked,
			}
			cr.faults = append(cr.faults, fault)
			r.logger.Warn("Behavior fault, disabling behavior",
				zap.String("threat_id", in.ThreatID),
				zap.String("component_id", c.ID),
				zap.String("behavior", inst.Kind),
				zap.Uint64("tick", in.Tick),
				zap.Bool("panicked", panicked),
				zap.Error(err),
			)
			continue
		}

		cr.ran++
		cr.potentialSum += domain.Clamp01(inst.Potential())
		cr.potentialN++
	}
	return cr
}

func invoke(inst *Instance, dt float64, tc *TickContext) (err error, panicked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			panicked = true
		}
	}()
	if inst.Update == nil {
		return nil, false
	}
	return inst.Update(dt, tc), false
}

// writeGroups partitions component indexes so that components sharing a
// declared write target end up in the same group. Groups and their
// members are ordered by component index.
func writeGroups(behaviors [][]*Instance) [][]int {
	n := len(behaviors)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	owner := make(map[string]int)
	for i, insts := range behaviors {
		for _, inst := range insts {
			for _, target := range inst.Writes {
				if j, ok := owner[target]; ok {
					union(i, j)
				} else {
					owner[target] = i
				}
			}
		}
	}

	index := make(map[int]int)
	var groups [][]int
	for i := 0; i < n; i++ {
		root := find(i)
		g, ok := index[root]
		if !ok {
			g = len(groups)
			index[root] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}
