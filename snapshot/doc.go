// Package snapshot defines the durable state written between process runs
// and stores it on disk.
//
// A [Snapshot] holds the session secret, the current access token and the
// conversation list, plus a fingerprint of the secret. The schema is an
// explicit struct; [Schema] renders it as JSON Schema so the persisted shape
// can be reviewed and versioned.
//
// [FileStore] writes one file per instance name, atomically, with owner-only
// permissions. With a passphrase the file is encrypted with age.
//
//	store := snapshot.NewFileStore(dir, "default")
//	snap, err := store.Load()
//	if errors.Is(err, snapshot.ErrNotFound) {
//	    // first run
//	}
package snapshot
