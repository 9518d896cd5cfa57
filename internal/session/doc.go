// Package session defines the conversation continuation model shared by the
// store, the completion client and the relay.
//
// # Providers
//
// A provider is the external completion service a conversation belongs to.
// Providers come in two kinds:
//
//   - thread: resumes a conversation from a conversation id and the id of the
//     last message in it.
//   - bound: additionally requires a session-binding triple (conversation
//     signature, client id, invocation id) issued by the provider.
//
// The kind is fixed per provider key by the Registry, and a Continuation is
// only valid for a provider when its Binding matches the provider's kind.
//
// # State
//
// State is the persisted continuation for one (user, provider) pair. It is
// replaced wholesale after every successful turn and removed on reset.
package session
