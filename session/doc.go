// Package session owns the session secret and the access token derived
// from it.
//
// A [Manager] exchanges the long-lived session secret for a short-lived
// access token through a [Refresher], replaces the secret when the backend
// rotates it, and keeps the token fresh in the background:
//
//	mgr, err := session.NewManager(secret, session.NewHTTPRefresher(baseURL, nil),
//	    session.WithStore(snapshot.NewFileStore(dir, "default")),
//	    session.WithTable(table),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = mgr.Load()
//	mgr.Start(ctx)
//	defer mgr.Close()
//
//	token, err := mgr.EnsureCredential(ctx)
//
// # Lifecycle
//
// A manager moves from StateUninitialized to StateAcquiring on its first
// refresh and to StateReady once a token is held. When the token nears
// expiry it goes back to StateAcquiring. There is no terminal state.
//
// # Refresh
//
// Concurrent EnsureCredential calls and background ticks share a single
// outbound refresh. Ticks refresh RefreshMargin before the literal expiry
// so callers never race an expiring token. A failed refresh leaves the
// previous secret and token in place.
//
// # Persistence
//
// With a store attached the manager saves the secret, token and the
// attached conversation table every save interval and on Close. Load
// restores them; if the stored fingerprint does not match the secret the
// manager was created with, the stored secret and token are discarded.
package session
