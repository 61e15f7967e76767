// Package forum provides a rate-limit aware client for a discussion-forum
// backend, plus the typed content model the rest of murmur works with.
//
// # Overview
//
// Every remote call goes through Client.Execute. Execute owns the retry
// discipline for the whole engine:
//
//   - 429 responses are retried after BaseDelay * attempt (plus optional
//     jitter, or the server's Retry-After when that is longer).
//   - Connection-level failures are retried after a fixed TransientDelay.
//   - 403 fails immediately; retrying cannot succeed.
//   - Any other non-success status fails immediately and is logged with its
//     status code.
//
// Both retryable kinds draw from the same MaxAttempts budget, and no sleep
// happens after the final attempt.
//
// # Failures
//
// Failed calls return a *Failure whose Kind classifies the cause. Callers
// branch with KindOf or the Is* helpers instead of inspecting status codes:
//
//	_, err := client.UpdatePost(ctx, id, text, "")
//	switch {
//	case forum.IsRateLimited(err):
//		// attempts exhausted
//	case forum.IsPermissionDenied(err):
//		// credential cannot act as this identity
//	}
//
// # Identities
//
// Requests carry a static API credential and an acting identity. The acting
// identity defaults to the one the client was built with; WithIdentity and
// Request.ActingAs attribute individual calls to other identities.
//
// # Usage Example
//
//	client, err := forum.NewClient(forum.Options{
//		BaseURL:  "https://community.example.com",
//		APIKey:   os.Getenv("MURMUR_FORUM_API_KEY"),
//		Identity: "system",
//		Policy:   forum.DefaultBackoffPolicy(),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	page, err := client.ListTopics(ctx, 0, 100)
package forum
