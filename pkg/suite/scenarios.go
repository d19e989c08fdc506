package suite

import (
	"context"
	"fmt"
	"sort"

	"github.com/fly-io/thinp-harness/pkg/devicemapper"
)

// Scenario is one named check run against an Env.
type Scenario struct {
	Name string
	Run  func(ctx context.Context, env *Env) error
}

var registry = map[string]Scenario{}

func register(name string, run func(ctx context.Context, env *Env) error) {
	if _, ok := registry[name]; ok {
		panic("duplicate scenario " + name)
	}
	registry[name] = Scenario{Name: name, Run: run}
}

// Scenarios returns every registered scenario sorted by name.
func Scenarios() []Scenario {
	out := make([]Scenario, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a scenario by name.
func Lookup(name string) (Scenario, bool) {
	s, ok := registry[name]
	return s, ok
}

func init() {
	register("creation/lots_of_empty_thins", lotsOfEmptyThins)
	register("creation/lots_of_snaps", lotsOfSnaps)
	register("creation/lots_of_recursive_snaps", lotsOfRecursiveSnaps)
	register("creation/non_power_of_2_data_block_size_fails", blockSizeFails(func(p ThinPoolParams) uint64 {
		return p.DataBlockSize + 57
	}))
	register("creation/too_small_data_block_size_fails", blockSizeFails(func(ThinPoolParams) uint64 {
		return 64
	}))
	register("creation/too_large_data_block_size_fails", blockSizeFails(func(ThinPoolParams) uint64 {
		return devicemapper.MaxDataBlockSize + 1
	}))
	register("creation/largest_data_block_size_succeeds", largestDataBlockSize)
	register("creation/too_large_a_dev_t_fails", tooLargeDevT)
	register("creation/largest_dev_t_succeeds", largestDevT)
	register("creation/create_thin_then_snap", createThinThenSnap)
}

func lotsOfEmptyThins(ctx context.Context, env *Env) error {
	n := env.iterations()
	return env.WithStandardPool(ctx, func(pool *devicemapper.Pool) error {
		for i := 0; i <= n; i++ {
			if err := pool.Message(ctx, 0, devicemapper.CreateThin{ID: devicemapper.ThinID(i)}); err != nil {
				return err
			}
		}
		return nil
	})
}

func lotsOfSnaps(ctx context.Context, env *Env) error {
	n := env.iterations()
	return env.WithStandardPool(ctx, func(pool *devicemapper.Pool) error {
		if err := pool.Message(ctx, 0, devicemapper.CreateThin{ID: 0}); err != nil {
			return err
		}
		for i := 1; i <= n; i++ {
			if err := pool.Message(ctx, 0, devicemapper.CreateSnap{ID: devicemapper.ThinID(i), Origin: 0}); err != nil {
				return err
			}
		}
		return nil
	})
}

func lotsOfRecursiveSnaps(ctx context.Context, env *Env) error {
	n := env.iterations()
	return env.WithStandardPool(ctx, func(pool *devicemapper.Pool) error {
		if err := pool.Message(ctx, 0, devicemapper.CreateThin{ID: 0}); err != nil {
			return err
		}
		for i := 1; i <= n; i++ {
			snap := devicemapper.CreateSnap{ID: devicemapper.ThinID(i), Origin: devicemapper.ThinID(i - 1)}
			if err := pool.Message(ctx, 0, snap); err != nil {
				return err
			}
		}
		return nil
	})
}

func blockSizeFails(blockSize func(ThinPoolParams) uint64) func(context.Context, *Env) error {
	return func(ctx context.Context, env *Env) error {
		target := env.Pool.ThinPool()
		target.DataBlockSize = blockSize(env.Pool)
		return env.AssertBadTable(ctx, devicemapper.NewTable(target))
	}
}

func largestDataBlockSize(ctx context.Context, env *Env) error {
	target := env.Pool.ThinPool()
	target.DataBlockSize = devicemapper.MaxDataBlockSize
	target.LowWaterMark = min(target.LowWaterMark, target.Blocks())
	return env.WithTable(ctx, devicemapper.NewTable(target), func(*devicemapper.Pool) error {
		return nil
	})
}

func tooLargeDevT(ctx context.Context, env *Env) error {
	return env.WithStandardPool(ctx, func(pool *devicemapper.Pool) error {
		err := pool.Message(ctx, 0, devicemapper.CreateThin{ID: devicemapper.MaxThinID + 1})
		if err == nil {
			return fmt.Errorf("create_thin %d was accepted", devicemapper.MaxThinID+1)
		}
		if !devicemapper.IsDriverError(err) {
			return err
		}
		return nil
	})
}

func largestDevT(ctx context.Context, env *Env) error {
	return env.WithStandardPool(ctx, func(pool *devicemapper.Pool) error {
		return pool.Message(ctx, 0, devicemapper.CreateThin{ID: devicemapper.MaxThinID})
	})
}

func createThinThenSnap(ctx context.Context, env *Env) error {
	return env.WithStandardPool(ctx, func(pool *devicemapper.Pool) error {
		if err := pool.Message(ctx, 0, devicemapper.CreateThin{ID: 0}); err != nil {
			return err
		}
		return pool.Message(ctx, 0, devicemapper.CreateSnap{ID: 1, Origin: 0})
	})
}
