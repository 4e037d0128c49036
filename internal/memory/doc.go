// Package memory maintains per-node conversational state: a bounded
// window of recent messages and a rolling natural-language summary. The
// summary is updated off the chat path by a bounded background worker
// pool so a slow summarization never delays a turn.
package memory
