// Package bearer decodes the short-lived access token issued by the
// session endpoint and reports whether it can still authorize requests.
//
// Tokens are JWT-shaped (header.payload.signature). Only the payload's
// "exp" claim is read; signatures are never verified, the backend does that.
//
// Validation fails closed: an empty or malformed token is never valid.
//
//	if !bearer.Valid(token) {
//	    // refresh before use
//	}
package bearer
