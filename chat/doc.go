// Package chat is the entry point for talking to the backend.
//
// A [Client] holds one authenticated session and any number of
// conversation threads. Each [Client.Exchange] call makes sure the access
// token is valid, resolves the thread's backend conversation and parent
// message, posts the prompt and streams the answer back:
//
//	client, err := chat.New(config.FromEnv(), secret)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	res := client.Exchange(ctx, "Hello",
//	    chat.WithThread("notes"),
//	    chat.WithDelta(func(s string) { fmt.Print(s) }),
//	)
//	if !res.OK {
//	    log.Printf("exchange failed (%s): %v", res.Kind, res.Error)
//	}
//
// Expected backend failures never panic or return a Go error from
// Exchange; they are reported in the [Result] with a classified
// [apierr.Kind]. Exchange does not retry. After a SessionExpired result
// the next call refreshes the token before posting.
//
// Exchanges on different threads may run concurrently. Overlapping
// exchanges on the same thread are not serialized; the backend rejects
// them with ConcurrentMessageInProgress.
package chat
