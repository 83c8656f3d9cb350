package oscsim

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"time"

	"github.com/VigneshVSV/oscilloscope-simulator/internal/getbytes"
)

// FrameCodec converts frames to and from their wire representation. Encoding
// cost dominates end-to-end latency at large sample counts, so codecs are
// pluggable and chosen per deployment.
type FrameCodec interface {
	Name() string
	EncodeFrame(*Frame) ([]byte, error)
	DecodeFrame([]byte) (*Frame, error)
}

// CodecByName returns the codec selected by configuration. names is the
// fixed channel naming, needed by the raw codec whose wire format carries no
// schema.
func CodecByName(name string, names []string) (FrameCodec, error) {
	switch name {
	case "json":
		return &JSONCodec{}, nil
	case "raw":
		return NewRawCodec(names), nil
	}
	return nil, Configf("unknown codec %q (want json or raw)", name)
}

// JSONCodec is the textual, self-describing encoding: channel names and axis
// travel with every frame, so any client can decode without prior schema.
type JSONCodec struct{}

type jsonFrame struct {
	Seq       FrameIndex  `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	TimeRange float64     `json:"time_range"`
	TimeAxis  []float64   `json:"time_axis"`
	Names     []string    `json:"names"`
	Samples   [][]float64 `json:"samples"`
}

// Name returns "json".
func (c *JSONCodec) Name() string { return "json" }

// EncodeFrame marshals the frame as a JSON object.
func (c *JSONCodec) EncodeFrame(f *Frame) ([]byte, error) {
	b, err := json.Marshal(jsonFrame{f.Seq, f.Timestamp, f.TimeRange, f.TimeAxis, f.Names, f.Samples})
	if err != nil {
		return nil, Encodingf("json encode of frame %d: %v", f.Seq, err)
	}
	return b, nil
}

// DecodeFrame unmarshals a JSON frame.
func (c *JSONCodec) DecodeFrame(b []byte) (*Frame, error) {
	var jf jsonFrame
	if err := json.Unmarshal(b, &jf); err != nil {
		return nil, Encodingf("json decode: %v", err)
	}
	f := &Frame{jf.Seq, jf.Timestamp, jf.TimeRange, jf.TimeAxis, jf.Names, jf.Samples}
	if !f.Consistent() {
		return nil, Encodingf("json decode: inconsistent frame shape")
	}
	return f, nil
}

// RawCodec is the compact binary encoding. It assumes a fixed schema (the
// channel count and ordering fixed at startup) known to both ends and ships
// only a small header plus the float64 payloads, little-endian, using
// zero-copy slice conversion on the encode side.
type RawCodec struct {
	names []string
}

// NewRawCodec creates a RawCodec for the given fixed channel naming.
func NewRawCodec(names []string) *RawCodec {
	return &RawCodec{names: names}
}

const rawMagic = "OSC1"
const rawHeaderLen = 4 + 2 + 2 + 4 + 8 + 8 + 8 // magic, version, nchan, nsamp, seq, stamp, range

// Name returns "raw".
func (c *RawCodec) Name() string { return "raw" }

// EncodeFrame lays out header then time axis then one payload per channel.
func (c *RawCodec) EncodeFrame(f *Frame) ([]byte, error) {
	if !f.Consistent() {
		return nil, Encodingf("raw encode of frame %d: inconsistent frame shape", f.Seq)
	}
	if f.NChan() != len(c.names) {
		return nil, Encodingf("raw encode of frame %d: %d channels, schema has %d", f.Seq, f.NChan(), len(c.names))
	}
	nsamp := f.NSamples()
	buf := make([]byte, 0, rawHeaderLen+8*nsamp*(f.NChan()+1))
	buf = append(buf, rawMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, 1) // format version
	buf = binary.LittleEndian.AppendUint16(buf, uint16(f.NChan()))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(nsamp))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.Seq))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.Timestamp.UnixNano()))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f.TimeRange))
	buf = append(buf, getbytes.FromSliceFloat64(f.TimeAxis)...)
	for _, samples := range f.Samples {
		buf = append(buf, getbytes.FromSliceFloat64(samples)...)
	}
	return buf, nil
}

// DecodeFrame is the inverse of EncodeFrame. Channel names come from the
// codec's schema, not the wire. The payload is copied out of b, so the
// caller may reuse its buffer.
func (c *RawCodec) DecodeFrame(b []byte) (*Frame, error) {
	if len(b) < rawHeaderLen || string(b[:4]) != rawMagic {
		return nil, Encodingf("raw decode: bad magic or truncated header")
	}
	if v := binary.LittleEndian.Uint16(b[4:]); v != 1 {
		return nil, Encodingf("raw decode: unsupported format version %d", v)
	}
	nchan := int(binary.LittleEndian.Uint16(b[6:]))
	nsamp := int(binary.LittleEndian.Uint32(b[8:]))
	if nchan != len(c.names) {
		return nil, Encodingf("raw decode: %d channels on wire, schema has %d", nchan, len(c.names))
	}
	want := rawHeaderLen + 8*nsamp*(nchan+1)
	if len(b) != want {
		return nil, Encodingf("raw decode: message is %d bytes, want %d", len(b), want)
	}
	f := &Frame{
		Seq:       FrameIndex(binary.LittleEndian.Uint64(b[12:])),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(b[20:]))).UTC(),
		TimeRange: math.Float64frombits(binary.LittleEndian.Uint64(b[28:])),
		Names:     c.names,
		Samples:   make([][]float64, nchan),
	}
	payload := b[rawHeaderLen:]
	section := func(i int) []float64 {
		out := make([]float64, nsamp)
		copy(out, getbytes.ToSliceFloat64(payload[8*nsamp*i:8*nsamp*(i+1)]))
		return out
	}
	f.TimeAxis = section(0)
	for i := 0; i < nchan; i++ {
		f.Samples[i] = section(i + 1)
	}
	return f, nil
}
