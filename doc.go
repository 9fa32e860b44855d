// Package agentrt implements the Agent Execution Runtime: a persistence and
// scheduling core that turns a user-described automation into a durable
// "agent" — synthesized code, a trigger, and per-agent state — and runs it
// safely, on demand or on a schedule, for as long as the agent stays active.
//
// The domain types in this package (Agent, Trigger, the error taxonomy) are
// shared by every other package in this module: store for persistence,
// hostcall/sandbox for execution, synth for code synthesis, schedule for
// firing, and orchestrator for the conversational front end.
package agentrt
