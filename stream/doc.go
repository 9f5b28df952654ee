// Package stream decodes the conversation endpoint's response body into
// incremental answer text.
//
// The endpoint answers either with a single JSON object or with an
// event stream of "data: {json}" lines terminated by "data: [DONE]".
// Every streamed record carries the cumulative answer so far, not just
// the new fragment, so the decoder derives each delta by removing the
// previously seen text and takes the final answer from the last record
// that parsed.
//
// Basic usage:
//
//	dec := stream.NewDecoder()
//	rec, err := dec.Decode(ctx, resp.Body, resp.Header.Get("Content-Type"), func(delta string) {
//	    fmt.Print(delta)
//	})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(rec.Text())
//
// Records that fail to parse are logged at debug level and skipped.
package stream
