// Package apierr classifies errors reported by the conversation backend.
//
// The backend reports failures as free text in several JSON shapes. Use
// [Normalize] once at the HTTP boundary to reduce any of them to a single
// message, then [Classify] to map the message onto a closed set of [Kind]s.
// Classification is heuristic substring matching over text the backend
// controls; it is not a contract.
//
//	msg := apierr.Normalize(body, resp.Status)
//	err := apierr.New("exchange", msg, resp.StatusCode)
//	if apierr.KindOf(err) == apierr.RateLimitExceeded {
//	    // back off
//	}
package apierr
