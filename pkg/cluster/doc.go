// Package cluster is the process-cluster subsystem: it tells a process
// whether it is the control process or a worker, spawns and terminates
// worker processes, and reports their lifecycle transitions.
//
// # Roles
//
// The control process spawns workers by re-executing a command (by default
// its own binary) with GOBOOT_WORKER_ID set. The same code path then runs in
// the worker, where IsWorker reports true and Spawn is refused.
//
// # Lifecycle
//
// A worker moves through starting, online, disconnecting and exited.
// OnOnline, OnDisconnect and OnExit each fire at most once; a subscription
// made after its transition fires immediately. Disconnect always precedes
// exit. A worker that dies before coming online never fires OnOnline.
//
//	c, _ := cluster.NewExec(cluster.ExecConfig{GracePeriod: 5 * time.Second})
//	if c.IsControl() {
//		w, _ := c.Spawn()
//		w.OnOnline(func() { fmt.Println("worker", w.ID(), "online") })
//		w.OnExit(func(err error) { fmt.Println("worker", w.ID(), "exited:", err) })
//	}
//
// Callbacks run on cluster goroutines. Consumers with single-threaded state
// post them onto their own scheduler.
package cluster
