package source

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
)

// Post represents a single item scraped from a channel page.
type Post struct {
	SourceID  string // configured source id
	Link      string // permalink, unique within a source
	Timestamp int64  // publication time, Unix seconds
	Heading   string // first meaningful body line
	Text      string // normalized body, may end with an <img> tag
}

// ParserTelegram is the only supported parser kind: public t.me/s pages.
const ParserTelegram = "telegram"

var (
	// ErrUnknownParser is returned by Parse for an unsupported parser kind.
	ErrUnknownParser = errors.New("unknown parser")

	// ErrMalformedBlock marks a message block without a usable date or link.
	ErrMalformedBlock = errors.New("malformed block")
)

// BlockError describes why a single message block was skipped.
type BlockError struct {
	Index  int
	Reason string
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("block %d: %s", e.Index, e.Reason)
}

func (e *BlockError) Unwrap() error {
	return ErrMalformedBlock
}

// Parse dispatches to the parser registered for kind.
func Parse(kind, sourceID string, r io.Reader, logger *slog.Logger) (iter.Seq[Post], error) {
	switch kind {
	case ParserTelegram:
		return ParseTelegram(sourceID, r, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownParser, kind)
	}
}

// SupportedParser reports whether kind names a known parser.
func SupportedParser(kind string) bool {
	return kind == ParserTelegram
}
