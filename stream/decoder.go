package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/randalmurphal/gptkit/apierr"
)

// Decode errors.
var (
	// ErrEmptyStream indicates the body ended without a single valid record.
	ErrEmptyStream = errors.New("stream contained no records")

	// ErrNonMonotonic indicates a record's text did not extend the previous
	// one. Only returned in Strict mode.
	ErrNonMonotonic = errors.New("cumulative text did not extend previous record")
)

// Strictness selects how the decoder treats a record whose cumulative text
// is not an extension of the previous record.
type Strictness int

const (
	// Lenient forwards the previous text removed from the new text at its
	// first occurrence. The result may not be a true suffix.
	Lenient Strictness = iota

	// Strict fails the decode.
	Strict
)

// String returns "lenient" or "strict".
func (s Strictness) String() string {
	if s == Strict {
		return "strict"
	}
	return "lenient"
}

// DeltaFunc receives each new text fragment in arrival order.
type DeltaFunc func(delta string)

// Decoder turns response bodies into records. A Decoder is stateless
// between calls and safe for concurrent use.
type Decoder struct {
	strictness Strictness
	logger     *slog.Logger
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithStrictness sets the non-extension policy. Default Lenient.
func WithStrictness(s Strictness) Option {
	return func(d *Decoder) { d.strictness = s }
}

// WithLogger sets the logger used for skipped records.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// NewDecoder creates a decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		strictness: Lenient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode reads body to completion and returns the final record.
//
// For an event stream, onDelta (if non-nil) is called with each new
// fragment before Decode returns and never after. For a JSON body no
// deltas are delivered. A record carrying a backend error ends decoding
// with an *apierr.Error.
func (d *Decoder) Decode(ctx context.Context, body io.Reader, contentType string, onDelta DeltaFunc) (*Record, error) {
	if isJSON(contentType) {
		return d.decodeJSON(body)
	}
	return d.decodeStream(ctx, body, onDelta)
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

func (d *Decoder) decodeJSON(body io.Reader) (*Record, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	rec, err := ParseRecord(data)
	if err != nil {
		return nil, err
	}
	if msg := apierr.Normalize(data, ""); msg != "" {
		return nil, apierr.New("decode", msg, 0)
	}
	if rec.Message == nil {
		return nil, ErrEmptyStream
	}
	return rec, nil
}

func (d *Decoder) decodeStream(ctx context.Context, body io.Reader, onDelta DeltaFunc) (*Record, error) {
	var (
		last *Record
		prev string
	)

	sc := NewScanner(body)
	for sc.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload := []byte(sc.Payload())
		rec, err := ParseRecord(payload)
		if err != nil {
			d.logger.Debug("failed to parse stream record",
				slog.Any("error", err),
				slog.String("payload", sc.Payload()))
			continue
		}
		if msg := apierr.Normalize(payload, ""); msg != "" {
			return nil, apierr.New("decode", msg, 0)
		}
		if rec.Message == nil {
			d.logger.Debug("skipping stream record without a message",
				slog.String("payload", sc.Payload()))
			continue
		}

		text := rec.Text()
		if text != "" {
			delta, err := d.delta(prev, text)
			if err != nil {
				return nil, err
			}
			if onDelta != nil && delta != "" {
				onDelta(delta)
			}
			prev = text
		}
		last = rec
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrEmptyStream
	}
	return last, nil
}

// delta computes the fragment new text adds over prev.
func (d *Decoder) delta(prev, next string) (string, error) {
	if strings.HasPrefix(next, prev) {
		return next[len(prev):], nil
	}
	if d.strictness == Strict {
		return "", fmt.Errorf("%w: %q does not start with %q", ErrNonMonotonic, next, prev)
	}
	d.logger.Debug("stream record is not an extension of the previous one",
		slog.Int("prev_len", len(prev)),
		slog.Int("next_len", len(next)))
	return strings.Replace(next, prev, "", 1), nil
}
