// gptkit asks the conversational backend a question from the command line.
//
// One-shot mode sends the positional arguments (or stdin when piped) as a
// single prompt and streams the answer to stdout:
//
//	GPTKIT_SESSION_TOKEN=... gptkit "What is a goroutine?"
//
// Interactive mode (-i) reads one prompt per line. "/reset" starts a new
// backend conversation on the current thread and "/quit" exits.
//
// The session secret comes from --session-token, GPTKIT_SESSION_TOKEN or
// the configured secret file, in that order. Session state is saved under
// the configs directory so later runs skip the initial refresh.
package main
