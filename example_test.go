package rtkernel_test

import (
	"context"
	"fmt"
	"time"

	rtkernel "github.com/Swind/go-rtkernel"
)

// ExampleGo demonstrates spawning and joining with only one import.
func ExampleGo() {
	opts := rtkernel.TickerOptions{Period: time.Millisecond}
	if err := rtkernel.InitGlobalKernel(nil, opts); err != nil {
		panic(err)
	}
	defer rtkernel.ShutdownGlobalKernel()

	pid, err := rtkernel.Go(rtkernel.SpawnOptions{Name: "worker", Priority: 50}, func(t *rtkernel.Thread) any {
		if err := t.Sleep(3); err != nil {
			return err
		}
		return "done"
	})
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	value, err := rtkernel.Join(ctx, pid)
	fmt.Println(value, err)

	// Output:
	// done <nil>
}

// ExampleKernel_AdvanceTicks demonstrates manual ticking and priority preemption.
func ExampleKernel_AdvanceTicks() {
	k := rtkernel.NewKernel(nil)
	defer k.Shutdown()
	g := k.NewGroup("demo")

	for _, th := range []struct {
		name  string
		prio  int
		sleep int
	}{
		{"low", 10, 2},
		{"high", 20, 4},
	} {
		_, _ = k.Spawn(g, rtkernel.SpawnOptions{Name: th.name, Priority: th.prio}, func(t *rtkernel.Thread) any {
			_ = t.Sleep(th.sleep)
			fmt.Printf("%s woke at tick %d\n", t.Name(), t.Ticks())
			return nil
		})
	}

	ctx := context.Background()
	for range 4 {
		_ = k.WaitIdle(ctx)
		k.Tick()
	}
	_ = k.WaitIdle(ctx)

	// Output:
	// low woke at tick 2
	// high woke at tick 4
}
