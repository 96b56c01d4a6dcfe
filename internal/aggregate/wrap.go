package aggregate

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zkforge/zkforge/internal/prover"
)

// Envelope format constants. The wire layout is fixed:
//
//	magic(4) | version(1) | shapeLen(u16) | shape | count(u64) |
//	cycles(u64) | root(32) | pvDigest(32)
//
// All integers big-endian.
const (
	EnvelopeVersion = 1

	maxShapeLen = 256
)

var envelopeMagic = [4]byte{'Z', 'K', 'F', 'P'}

var (
	ErrBadEnvelope     = errors.New("aggregate: malformed proof envelope")
	ErrEnvelopeVersion = errors.New("aggregate: unsupported envelope version")
)

// Envelope is the wrapped succinct proof delivered to clients. It is the
// terminal artifact of a task; everything a downstream verifier needs is
// carried inline.
type Envelope struct {
	Shape    string
	Count    int
	Cycles   uint64
	Root     [32]byte
	PVDigest [32]byte
}

// Wrap converts an aggregated proof into its client envelope.
func Wrap(p Proof) Envelope {
	return Envelope{
		Shape:    p.Shape.ID(),
		Count:    p.Count,
		Cycles:   p.Cycles,
		Root:     p.Root,
		PVDigest: p.PVDigest,
	}
}

// MarshalBinary encodes the envelope in its canonical wire layout.
// Encoding is deterministic: the same envelope always yields the same
// bytes.
func (e Envelope) MarshalBinary() ([]byte, error) {
	if len(e.Shape) == 0 || len(e.Shape) > maxShapeLen {
		return nil, fmt.Errorf("%w: shape length %d", ErrBadEnvelope, len(e.Shape))
	}
	if e.Count < 0 {
		return nil, fmt.Errorf("%w: negative count", ErrBadEnvelope)
	}

	var buf bytes.Buffer
	buf.Write(envelopeMagic[:])
	buf.WriteByte(EnvelopeVersion)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(e.Shape))); err != nil {
		return nil, err
	}
	buf.WriteString(e.Shape)
	if err := binary.Write(&buf, binary.BigEndian, uint64(e.Count)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, e.Cycles); err != nil {
		return nil, err
	}
	buf.Write(e.Root[:])
	buf.Write(e.PVDigest[:])
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an envelope, rejecting trailing garbage.
func (e *Envelope) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != envelopeMagic {
		return fmt.Errorf("%w: bad magic", ErrBadEnvelope)
	}
	version, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: truncated", ErrBadEnvelope)
	}
	if version != EnvelopeVersion {
		return fmt.Errorf("%w: version %d", ErrEnvelopeVersion, version)
	}

	var shapeLen uint16
	if err := binary.Read(r, binary.BigEndian, &shapeLen); err != nil {
		return fmt.Errorf("%w: truncated shape length", ErrBadEnvelope)
	}
	if shapeLen == 0 || int(shapeLen) > maxShapeLen {
		return fmt.Errorf("%w: shape length %d", ErrBadEnvelope, shapeLen)
	}
	shape := make([]byte, shapeLen)
	if _, err := io.ReadFull(r, shape); err != nil {
		return fmt.Errorf("%w: truncated shape", ErrBadEnvelope)
	}

	var count, cycles uint64
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return fmt.Errorf("%w: truncated count", ErrBadEnvelope)
	}
	if err := binary.Read(r, binary.BigEndian, &cycles); err != nil {
		return fmt.Errorf("%w: truncated cycles", ErrBadEnvelope)
	}
	var root, pv [32]byte
	if _, err := io.ReadFull(r, root[:]); err != nil {
		return fmt.Errorf("%w: truncated root", ErrBadEnvelope)
	}
	if _, err := io.ReadFull(r, pv[:]); err != nil {
		return fmt.Errorf("%w: truncated digest", ErrBadEnvelope)
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrBadEnvelope, r.Len())
	}

	e.Shape = string(shape)
	e.Count = int(count)
	e.Cycles = cycles
	e.Root = root
	e.PVDigest = pv
	return nil
}

// ShapeOf parses the envelope's shape ID back into its components.
func (e Envelope) ShapeOf() (prover.Shape, error) {
	parts := strings.Split(e.Shape, "/")
	if len(parts) != 4 || len(parts[3]) < 2 || parts[3][0] != 'v' {
		return prover.Shape{}, fmt.Errorf("%w: shape %q", ErrBadEnvelope, e.Shape)
	}
	var version int
	if _, err := fmt.Sscanf(parts[3], "v%d", &version); err != nil {
		return prover.Shape{}, fmt.Errorf("%w: shape %q", ErrBadEnvelope, e.Shape)
	}
	return prover.Shape{
		System:  parts[0],
		Curve:   parts[1],
		Circuit: parts[2],
		Version: version,
	}, nil
}
