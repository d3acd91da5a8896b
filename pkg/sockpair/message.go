package sockpair

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"go.brendoncarroll.net/p2p"
)

// DefaultMaxFrameLen bounds RecvFrame allocations when the caller does not
// have a better limit.
const DefaultMaxFrameLen = 1 << 20

// SendFrame writes payload preceded by its length as a big-endian uint64.
// The header and payload go out as one gathered write.
func SendFrame(w io.Writer, payload []byte) error {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	v := p2p.IOVec{
		lenBuf[:],
		payload,
	}
	n, err := v.WriteTo(w)
	if err != nil {
		return err
	}
	if n != int64(len(payload)+8) {
		return io.ErrShortWrite
	}
	return nil
}

// RecvFrame reads one length-prefixed frame.
// Frames longer than maxLen are an error; maxLen <= 0 means DefaultMaxFrameLen.
func RecvFrame(r io.Reader, maxLen int) ([]byte, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxFrameLen
	}
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	l := binary.BigEndian.Uint64(lenBuf[:])
	if l > uint64(maxLen) {
		return nil, errors.Errorf("frame length %d exceeds limit %d", l, maxLen)
	}
	buf := make([]byte, int(l))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SendJSON writes v as a single newline-terminated JSON document.
func SendJSON(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}

// RecvJSON reads one newline-terminated JSON document into v.
func RecvJSON(br *bufio.Reader, v interface{}) error {
	line, err := br.ReadBytes('\n')
	if err != nil {
		return err
	}
	return json.Unmarshal(line, v)
}
