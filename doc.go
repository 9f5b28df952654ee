// Package gptkit is a client library for a conversational-AI backend that
// is reached through a browser session.
//
// It keeps a long-lived session secret exchanged for short-lived access
// tokens, tracks any number of conversation threads and streams answers
// back as they are generated. Each subpackage can be used on its own:
//
//   - chat: the client; Exchange sends a prompt on a thread
//   - session: secret and token lifecycle, background refresh, persistence
//   - conversation: thread table with parent pointers and idle eviction
//   - stream: event-stream scanner and cumulative-answer decoder
//   - apierr: backend error normalization and classification
//   - bearer: access token expiry decoding
//   - snapshot: persisted state and its file store
//   - config: options from files and GPTKIT_ environment variables
//   - clock: injectable time for the schedulers
//
// # Quick Start
//
//	import "github.com/randalmurphal/gptkit/chat"
//
//	client, err := chat.New(config.FromEnv(), os.Getenv("GPTKIT_SESSION_TOKEN"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//	_ = client.Start(ctx)
//
//	res := client.Exchange(ctx, "Hello", chat.WithThread("notes"))
//	fmt.Println(res.Answer)
//
// # Design Philosophy
//
//   - Expected backend failures are values, not panics
//   - Time is injected so schedulers are tested without sleeping
//   - Sensible defaults with full configurability
package gptkit
