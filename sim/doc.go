// Package sim provides the compartmental mass-transfer engine.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - depot.go: Depot, the conserved reservoir, and its two-phase (stage/commit) update
//   - link.go: Link, the transfer algorithm between two depots
//   - network.go: Network, the arena owning compartments and resolving depot handles
//
// # Architecture
//
// The engine is domain-agnostic; models live in sub-packages:
//   - sim/gct/: glucose/insulin/carbohydrate model driven by external events
//   - sim/event/: inbound and outbound event schema
//   - sim/scenario/: YAML scenarios and the deterministic driver
//   - sim/metrics/: Prometheus collector for engine activity
//   - sim/record/: SQLite recorder of emitted signals
//
// # Key Interfaces
//
// The extension points are small strategy interfaces:
//   - TransferFunction: rate law over a bounded or unbounded window
//   - ModerationFunction: feedback multiplier and elimination from a third depot
//   - Integrator: quadrature of a rate over a sub-interval
//
// # Two-phase stepping
//
// Network.Step stages every link's transfer from committed state only;
// Network.Commit publishes the staged quantities and prunes expired
// transients. Because no link reads staged state, compartments may be
// stepped concurrently, and the return of Step is the barrier before Commit.
// A depot touched by several links shares its quantity between their
// requests pro rata, so the outcome is the same for any worker count.
package sim
