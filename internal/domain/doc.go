// Package domain defines the core business entities of the workflow
// engine: job envelopes and results, chat records and their surrounding
// workflow context (nodes, projects, templates, prompts, model
// assignments), conversational history, and result events.
package domain
