// Package decision resolves users into variations.
//
// Service walks an ordered pipeline per decide call: holdout check, forced
// decisions, whitelisting, sticky bucketing through the user profile
// service, audience gating, CMAB prediction for bandit rules, and finally
// deterministic hash bucketing. Collaborators are injected as narrow
// interfaces so each stage can be faked independently in tests.
//
// Stages degrade locally: a CMAB failure or profile store error skips that
// rule or that write with a recorded reason; a decide call always produces
// a decision, never an error for "no matching rule".
package decision
