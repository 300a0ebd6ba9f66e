// Package flagkit is the decision engine and event-delivery core of a
// feature-flagging/experimentation SDK.
//
// Given a project config ("datafile") describing experiments, feature
// flags, rollouts, audiences, holdouts, and traffic allocations, the client
// computes deterministic variation assignments for users and records each
// assignment as a durably queued, batched, retried analytics event.
//
// Key Features:
//
//   - Deterministic murmur3-based bucketing, byte-compatible across SDKs
//   - Ordered decide pipeline: holdouts, forced decisions, whitelists,
//     sticky bucketing, audiences, contextual bandits, hash bucketing
//   - Durable FIFO event queue (memory, file, or Redis backed) with
//     batching, bounded exponential-backoff retry and reachability gating
//   - Background datafile polling with atomic config snapshot swaps
//   - Narrow collaborator interfaces for audience evaluation, user
//     profiles and bandit predictions, injected via functional options
//
// Basic Usage:
//
//	client, err := flagkit.New(datafileJSON)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
//	user := client.CreateUserContext("user-42", map[string]any{
//		"plan": "pro",
//	})
//
//	d := user.Decide(ctx, "new_checkout")
//	if d.Enabled {
//		// serve the new checkout
//	}
//
//	_ = user.TrackEvent(ctx, "purchase", map[string]any{"revenue": 4200})
//
// Production deployments typically construct the client from environment
// variables instead, which wires datafile polling, the event queue backend
// and the bandit prediction service in one call:
//
//	client, err := flagkit.NewFromEnv(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := client.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package flagkit
