// Package rtkernel provides the scheduling core of a small real-time kernel,
// simulated on goroutines.
//
// A Kernel keeps a priority ordered ready list whose head is the running
// thread. Higher priority threads preempt lower ones; threads of equal
// priority share the CPU by yielding or by round robin time slices. Timed
// events are one-shot watchdogs kept in a delta list and driven by ticks,
// either from a periodic or a tickless TickDriver. Threads belong to task
// groups that record their exit values until they are joined or detached.
//
// # Quick Start
//
// Initialize the global kernel at application startup:
//
//	rtkernel.InitGlobalKernel(nil, rtkernel.DefaultTickerOptions())
//	defer rtkernel.ShutdownGlobalKernel()
//
// Spawn threads and join them:
//
//	pid, _ := rtkernel.Go(rtkernel.SpawnOptions{Name: "worker", Priority: 50},
//		func(t *rtkernel.Thread) any {
//			t.Sleep(5) // ticks
//			return "done"
//		})
//	value, err := rtkernel.Join(ctx, pid)
//
// # Key Concepts
//
// Thread: a goroutine that runs only while its context heads the ready list.
// Every kernel call through Thread is a scheduling point where a pending
// preemption takes effect.
//
// Interrupt context: ticks and watchdog callbacks run with the interrupt
// depth raised. Threads made ready there wait on the pending list until the
// outermost interrupt exits, then preempt if their priority is higher.
//
// Preemption lock: Thread.LockPreemption keeps the caller running; higher
// priority threads readied meanwhile are held pending until the matching
// UnlockPreemption.
//
// Join and detach: a terminated thread keeps its exit value in its group
// until exactly one Join collects it. Detached threads are reclaimed as soon
// as they terminate.
//
// # Packages
//
// core holds the kernel itself. config loads YAML settings, observability/zaplog
// adapts zap to the kernel logger and observability/prometheus exports kernel
// metrics. cmd/rtkdemo runs the demo scenarios from the command line.
package rtkernel
