// Package matrix is the relay's chat frontend.
//
// A Bridge listens for room messages, turns prefixed commands into relay
// requests, and delivers the relay's replies back into Matrix:
//
//	!ask <question>             ask the default provider
//	!ask-<provider> <question>  ask a specific provider
//	!toggle-session             flip private answers on or off
//	!reset-chat                 forget every conversation
//	!ping                       report latency
//
// Origin segments go back to the room the command came from. Direct and
// private segments go to a one-to-one room with the sender, created on first
// use. Answers are rendered from Markdown to HTML with goldmark.
package matrix
