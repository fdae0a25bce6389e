package sse

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Decoder turns a text/event-stream byte source into a sequence of typed
// events. It buffers across chunk boundaries itself; callers never see the
// framing. A decoder is single use: one instance per network exchange.
type Decoder struct {
	r      *bufio.Reader
	logger zerolog.Logger
	eof    bool
}

type DecoderOption func(*Decoder)

// WithLogger replaces the decoder's logger.
func WithLogger(logger zerolog.Logger) DecoderOption {
	return func(d *Decoder) {
		d.logger = logger
	}
}

func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		r:      bufio.NewReader(r),
		logger: log.With().Str("component", "sse").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next well-formed event in arrival order. Malformed blocks
// (unknown type, missing data, bad JSON) are skipped with a warning and
// decoding continues. io.EOF reports the clean end of the stream; a block
// left without its blank-line terminator when the source ends is discarded
// silently, never surfaced as an event.
func (d *Decoder) Next() (Event, error) {
	if d == nil || d.r == nil {
		return nil, errors.New("sse: decoder is not initialized")
	}
	if d.eof {
		return nil, io.EOF
	}
	for {
		blk, err := d.readBlock()
		if err != nil {
			d.eof = true
			return nil, err
		}
		if blk.err != nil {
			d.logger.Warn().Err(blk.err).Str("event", blk.kind).Msg("skipping malformed event block")
			continue
		}
		ev, err := ParseEvent(blk.kind, blk.data)
		if err != nil {
			d.logger.Warn().Err(err).Str("event", blk.kind).Msg("skipping undecodable event")
			continue
		}
		return ev, nil
	}
}

type rawBlock struct {
	kind string
	data []byte
	// err notes a grammar violation seen while scanning; the block is
	// consumed up to its terminator either way.
	err error
}

// readBlock accumulates one event block up to its blank-line terminator.
// Stray blank lines between blocks are ignored. Any read failure, including
// end of input mid-block, aborts without yielding the partial block.
func (d *Decoder) readBlock() (rawBlock, error) {
	var (
		blk     rawBlock
		started bool
		sawData bool
	)
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return rawBlock{}, io.EOF
			}
			return rawBlock{}, errors.Wrap(err, "sse: read stream")
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if !started {
				continue
			}
			return blk, nil
		}
		started = true
		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			blk.kind = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			payload := bytes.TrimPrefix(line[len("data:"):], []byte(" "))
			if sawData {
				blk.data = append(blk.data, '\n')
			}
			sawData = true
			blk.data = append(blk.data, payload...)
		default:
			if blk.err == nil {
				blk.err = errors.Errorf("sse: line %q matches neither event: nor data:", string(line))
			}
		}
	}
}
