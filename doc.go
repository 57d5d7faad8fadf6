package sagaflow

// Package sagaflow orchestrates distributed sagas: multi-step transactions
// whose steps have compensating actions that unwind partial work when a
// later step fails.
//
// Overview
//
// 1. Define your steps:
//    - Write a typed action and, optionally, a compensation for each step.
//    - Use `NewStep` to package them, declaring dependencies on other steps
//      with `WithDependencies`.
// 2. Assemble a `SagaDefinition`:
//    - Steps form a directed acyclic graph through their dependency lists;
//      the definition validates the graph and derives the execution order.
// 3. Create an `Orchestrator`:
//    - Use `New` with a `Config` carrying your logger, default retry
//      policy, and optional persistence and event sinks.
//    - Register definitions with `RegisterSaga`.
// 4. Run your sagas:
//    - `StartSaga` launches an asynchronous execution and returns a handle.
//    - `Wait` on the handle, `CancelSaga` to unwind early, and `GetLogs`
//      for the audit trail.
//
// Example:
//
// For a runnable, documented example, refer to the `examples/orderfulfillment`
// package.
