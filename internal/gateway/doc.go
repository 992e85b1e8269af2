// Package gateway wraps outbound API calls with credential handling.
//
// # Overview
//
// Every authenticated request goes through the Gateway, which attaches the
// current access token and reacts to authorization failures:
//
//  1. Run the call with the stored token.
//  2. On an unauthorized result, ask the Coordinator for a fresh credential.
//  3. Re-run the call once with the new token. The second result is final.
//
// Calls that fail for any other reason pass through untouched; the gateway
// never retries on its own beyond the single authorization-triggered retry.
//
// # Refresh Coordination
//
// The Coordinator serializes refreshes. When several concurrent calls hit an
// expired token at once, the first caller starts the token exchange and the
// rest wait on the same in-flight ticket; all of them share its outcome, so
// one expiry costs one exchange.
//
// Each exchange runs on its own timeout detached from the waiting callers. A
// caller whose context is cancelled stops waiting, but the exchange finishes
// and the store still receives the fresh credential.
//
// # Terminal Failure
//
// When the refresh cannot produce a credential the store is cleared and the
// caller gets an unauthorized error telling the user to log in again.
package gateway
