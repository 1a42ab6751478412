// Package memory keeps a per-user record of conversations and of what has
// been learned about each user, on top of a vector RecordStore.
//
// Three collections are involved:
//   - conversation_sessions: one session per user per calendar day
//   - conversation_messages: every user, assistant and tool message
//   - user_facts: durable statements about the user, deduplicated
//
// Manager is the entry point. It saves whole turns, searches messages by
// meaning, rebuilds ordered histories and renders the facts summary and
// recent context that get injected into a system prompt.
//
// Every record carries a user_id and every read filters on it; one user
// never sees another user's data through this package.
//
// Storage backends live under memory/store and embedders under
// memory/embedder.
package memory
