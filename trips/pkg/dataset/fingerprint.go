package dataset

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"time"
)

// Fingerprint identifies a row by the values of all of its columns.
type Fingerprint [sha256.Size]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Fingerprinter hashes rows of one dataset. It reuses an internal buffer and
// must not be shared between goroutines.
type Fingerprinter struct {
	cols []Column
	buf  bytes.Buffer
}

func NewFingerprinter(d *Dataset) *Fingerprinter {
	return &Fingerprinter{cols: d.cols}
}

// Row encodes every value as typeTag:length:payload before hashing, so no
// field content can be mistaken for a boundary between fields. Nulls get
// their own tag, NaNs share one bit pattern and -0 is folded into +0.
func (f *Fingerprinter) Row(i int) Fingerprint {
	f.buf.Reset()
	var scratch [8]byte
	for _, c := range f.cols {
		if c.IsNull(i) {
			f.buf.WriteString("nil:0:")
			continue
		}
		var tag string
		var payload []byte
		switch v := c.Value(i).(type) {
		case string:
			tag, payload = "s", []byte(v)
		case int64:
			binary.BigEndian.PutUint64(scratch[:], uint64(v))
			tag, payload = "i", scratch[:]
		case float64:
			switch {
			case math.IsNaN(v):
				v = math.NaN()
			case v == 0:
				v = 0
			}
			binary.BigEndian.PutUint64(scratch[:], math.Float64bits(v))
			tag, payload = "f", scratch[:]
		case time.Time:
			binary.BigEndian.PutUint64(scratch[:], uint64(v.Unix()))
			tag, payload = "t", scratch[:]
		}
		f.buf.WriteString(tag)
		f.buf.WriteByte(':')
		f.buf.WriteString(strconv.Itoa(len(payload)))
		f.buf.WriteByte(':')
		f.buf.Write(payload)
	}
	return sha256.Sum256(f.buf.Bytes())
}
