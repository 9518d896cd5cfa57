// Package relay orchestrates one question from arrival to delivery.
//
// # Flow
//
// Ask walks a request through these steps:
//
//	Start      read the user's privacy flag (absent reads as false)
//	AwaitState load the (user, provider) continuation, if any
//	Dispatch   call the completion provider, bounded by the request timeout
//	Persist    overwrite the continuation with the one the provider returned
//	Format     split and route the answer, then hand it to the Deliverer
//
// Any failure before Format ends the request with a user-visible message and
// leaves stored state untouched. AwaitState through Persist hold a lock keyed
// by (user, provider), so two questions to the same thread never read the same
// parent message. After delivery a history record is written; failures there
// are only logged.
//
// # Lifecycle
//
// TogglePrivacy flips the per-user flag. Reset deletes every provider's
// continuation for the user and reports whether anything was there.
// Neither touches the completion provider.
package relay
