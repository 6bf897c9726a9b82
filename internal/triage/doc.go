// Package triage is the decision core of Arovia. It defines the domain
// model, the typed pipeline errors, the Provider interface to LLM
// backends, the Relevance Gate (Gate) and the Triage Reasoner (Engine),
// whose scoring policy keeps urgency score, category and emergency flag
// consistent.
package triage
