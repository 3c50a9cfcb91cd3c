// Package observability provides the engine's structured logging,
// context-propagated correlation IDs (conversation, turn, tool call), and a
// bounded debug trace enabled via ARULA_DEBUG=1.
package observability
