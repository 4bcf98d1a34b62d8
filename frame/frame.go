// Package frame implements the robin wire framing: every logical
// message travels as a 4-byte big-endian length followed by exactly
// that many payload bytes. There is no trailing newline or null on
// the wire.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxSize is the largest payload Recv accepts before draining
// and rejecting the frame.
const DefaultMaxSize = 1 << 20

var (
	// ErrShortHeader is returned when the peer closes or errors in the
	// middle of the 4-byte length header.
	ErrShortHeader = errors.New("frame: short header")
)

// TooLargeError reports a frame whose declared length exceeds the
// receiver's cap. The payload has been read and discarded, so the
// stream is still in sync and the connection may keep going.
type TooLargeError struct {
	Declared uint32
	Max      uint32
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("frame: declared length %d exceeds %d", e.Declared, e.Max)
}

// Send writes p as a single frame. A zero-length payload is legal and
// produces a header-only frame.
func Send(w io.Writer, p []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(p)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	_, err := w.Write(p)
	return err
}

// SendString frames and writes s.
func SendString(w io.Writer, s string) error {
	return Send(w, []byte(s))
}

// Recv reads one frame and returns its payload. A clean close before
// any header byte yields io.EOF; a close mid-header yields
// ErrShortHeader. Frames declaring more than max bytes are drained
// from r and reported as *TooLargeError.
func Recv(r io.Reader, max uint32) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	dim := binary.BigEndian.Uint32(hdr[:])
	if dim > max {
		// Discard the payload so the next Recv starts on a header.
		if _, err := io.CopyN(io.Discard, r, int64(dim)); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		return nil, &TooLargeError{Declared: dim, Max: max}
	}
	buf := make([]byte, dim)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}
