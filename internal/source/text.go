package source

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// textDecoder turns raw reads into UTF-8 text. Invalid bytes become
// U+FFFD and a multi-byte rune split across two reads is held back
// until its remaining bytes arrive.
type textDecoder struct {
	t       transform.Transformer
	pending []byte
}

func newTextDecoder() *textDecoder {
	return &textDecoder{t: unicode.UTF8.NewDecoder()}
}

func (d *textDecoder) decode(p []byte) string {
	src := p
	if len(d.pending) > 0 {
		src = append(d.pending, p...)
		d.pending = nil
	}
	if len(src) == 0 {
		return ""
	}

	// Each invalid byte expands to the 3-byte replacement rune.
	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	nDst, nSrc, err := d.t.Transform(dst, src, false)
	if errors.Is(err, transform.ErrShortSrc) {
		d.pending = append([]byte(nil), src[nSrc:]...)
	}
	return string(dst[:nDst])
}

// reset drops any held-back bytes, e.g. after a file was truncated.
func (d *textDecoder) reset() {
	d.pending = nil
	d.t.Reset()
}
