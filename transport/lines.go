package transport

import "bytes"

// MaxLineLength bounds a buffered downlink line. Longer input is discarded up
// to the next newline.
const MaxLineLength = 256

// LineAssembler splits a byte stream into lines. CR LF and LF both end a line;
// empty lines are skipped.
type LineAssembler struct {
	buf     []byte
	discard bool
}

// Feed appends data and calls fn for every complete line.
func (a *LineAssembler) Feed(data []byte, fn func(line []byte)) {
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			a.append(data)
			return
		}
		a.append(data[:i])
		line := bytes.TrimSuffix(a.buf, []byte{'\r'})
		if !a.discard && len(line) > 0 {
			fn(line)
		}
		a.buf = a.buf[:0]
		a.discard = false
		data = data[i+1:]
	}
}

// Pending returns the bytes of the incomplete trailing line.
func (a *LineAssembler) Pending() int {
	return len(a.buf)
}

func (a *LineAssembler) append(p []byte) {
	if a.discard {
		return
	}
	if len(a.buf)+len(p) > MaxLineLength {
		a.buf = a.buf[:0]
		a.discard = true
		return
	}
	a.buf = append(a.buf, p...)
}

// ValidLine reports whether line can be written to a host link.
func ValidLine(line []byte) bool {
	return bytes.IndexAny(line, "\r\n") < 0
}
