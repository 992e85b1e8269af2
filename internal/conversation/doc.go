// Package conversation manages the one active chat conversation of the client.
//
// # Overview
//
// The conversation package sits between the UI (CLI or TUI) and the API
// gateway. It owns the entry list the user sees and guarantees that list is
// always in one of two shapes: the server's authoritative history, or that
// history plus exactly one optimistic user entry awaiting confirmation.
//
// # Sending
//
// Send appends the question optimistically, issues the ask, and reconciles:
//
//	resp, err := ctrl.Send(ctx, "total revenue by month?")
//
// On success the local entries are replaced wholesale with the history the
// server returned (which contains the confirmed question and the answer). On
// failure the exact pre-send entry sequence is restored, so a failed question
// never leaves a phantom entry behind.
//
// # Session Switching
//
// SwitchSession and NewSession replace the conversation. Each replacement
// bumps an internal epoch; a send or history load that settles after the
// epoch moved discards its result and returns ErrSuperseded instead of
// touching the new conversation.
//
// # Session Listing
//
// Sessions lists the server's sessions for the current target and feeds the
// shared summary cache, so artifact links saved elsewhere show up in listings
// without a refetch.
package conversation
