// Package singleton guarantees that exactly one instance of a designated
// worker runs at any time across a set of cooperating nodes, and that if
// the node running it disappears, another node takes over without manual
// intervention.
//
// Coordination happens over NATS: claims live in a JetStream KV bucket
// and liveness is tracked with heartbeats, so no separate consensus
// system is required.
//
// # Quick Start
//
// Wrap a child spec and run it under a supervisor on every node:
//
//	group, err := singleton.Connect("prod", "node-1", "nats://localhost:4222")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer group.Close()
//
//	spec := singleton.Wrap(singleton.ChildSpec{
//	    ID: "scheduler",
//	    Start: func(ctx context.Context) error {
//	        runScheduler(ctx) // blocks until ctx is cancelled
//	        return nil
//	    },
//	})
//
//	sup := singleton.NewSupervisor(group, spec, nil)
//	if err := sup.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Exactly one node's coordinator wins the claim race and starts the
// worker; the rest become followers watching the winner. If the owner
// dies abnormally, a follower takes over within the heartbeat window.
// If the owner shuts down cleanly, followers park briefly instead of
// stampeding the registry.
//
// # Architecture
//
// Each coordinator is a single-threaded reactive state machine:
//
//   - Registering: race to create the claim record (atomic KV create)
//   - Owner: hold the claim, refresh it, run the child
//   - Follower: watch the owner's heartbeats, retry on abnormal loss
//   - Terminating: release the claim, stop the child with the same
//     termination reason the coordinator was given
//
// When a healed partition leaves two owners for one key, both sides run
// the same pure resolver over the same handle pair; the loser stops its
// child and itself with a conflict-tagged reason that restart policies
// treat as intentional.
//
// # Cluster-wide operations
//
// [Group.Lookup] returns the live child handle for a key wherever it
// runs, and [Group.RequestTermination] asks the current owner to stop
// cleanly. Both work from any node in the group.
//
// # Sub-packages
//
//   - testutil: embedded NATS server helpers for tests
package singleton
