// Package wire defines the fixed-size little-endian records exchanged over
// the capture socket. Each record starts with a one-byte type tag; texture
// records carry their plane file descriptors out of band as SCM_RIGHTS
// ancillary data on the same sendmsg call.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Record type tags.
const (
	TypeClientData  byte = 1
	TypeTextureData byte = 2
)

// MaxPlanes is the most plane descriptors a texture record may carry.
const MaxPlanes = 4

// ExeNameLen is the fixed width of the ClientData executable name field.
const ExeNameLen = 64

// Record sizes on the wire, tag byte included.
const (
	ClientDataSize  = 1 + ExeNameLen
	TextureDataSize = 1 + 5*4 + 8 + 1 + 1 + 4
)

// ClientData announces the producing process. Sent once after connecting.
type ClientData struct {
	Exe string
}

// TextureData describes one exported frame. The plane fds travel as
// ancillary data; Planes declares how many the receiver must find there.
type TextureData struct {
	Width    int32
	Height   int32
	Format   int32
	Stride   int32
	Offset   int32
	Modifier uint64
	Planes   uint8
	Flip     uint8
	WindowID uint32
}

// Encode serializes the record. Exe names longer than the field are
// truncated; the field is always NUL padded to its fixed width.
func (c *ClientData) Encode() []byte {
	buf := make([]byte, ClientDataSize)
	buf[0] = TypeClientData
	copy(buf[1:], c.Exe)
	return buf
}

// DecodeClientData parses a complete ClientData record.
func DecodeClientData(buf []byte) (ClientData, error) {
	if len(buf) != ClientDataSize {
		return ClientData{}, fmt.Errorf("wire: client data is %d bytes, want %d", len(buf), ClientDataSize)
	}
	if buf[0] != TypeClientData {
		return ClientData{}, fmt.Errorf("wire: client data tag %d, want %d", buf[0], TypeClientData)
	}
	name := buf[1:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return ClientData{Exe: string(name)}, nil
}

// Encode serializes the record. It fails when the declared plane count is
// outside [1, MaxPlanes]; a texture without descriptors is meaningless.
func (t *TextureData) Encode() ([]byte, error) {
	if t.Planes < 1 || t.Planes > MaxPlanes {
		return nil, fmt.Errorf("wire: texture declares %d planes, want 1..%d", t.Planes, MaxPlanes)
	}
	buf := make([]byte, TextureDataSize)
	buf[0] = TypeTextureData
	le := binary.LittleEndian
	le.PutUint32(buf[1:], uint32(t.Width))
	le.PutUint32(buf[5:], uint32(t.Height))
	le.PutUint32(buf[9:], uint32(t.Format))
	le.PutUint32(buf[13:], uint32(t.Stride))
	le.PutUint32(buf[17:], uint32(t.Offset))
	le.PutUint64(buf[21:], t.Modifier)
	buf[29] = t.Planes
	buf[30] = t.Flip
	le.PutUint32(buf[31:], t.WindowID)
	return buf, nil
}

// DecodeTextureData parses a complete TextureData record. The plane count is
// validated here; matching it against the ancillary fd count is the
// receiver's job.
func DecodeTextureData(buf []byte) (TextureData, error) {
	if len(buf) != TextureDataSize {
		return TextureData{}, fmt.Errorf("wire: texture data is %d bytes, want %d", len(buf), TextureDataSize)
	}
	if buf[0] != TypeTextureData {
		return TextureData{}, fmt.Errorf("wire: texture data tag %d, want %d", buf[0], TypeTextureData)
	}
	le := binary.LittleEndian
	t := TextureData{
		Width:    int32(le.Uint32(buf[1:])),
		Height:   int32(le.Uint32(buf[5:])),
		Format:   int32(le.Uint32(buf[9:])),
		Stride:   int32(le.Uint32(buf[13:])),
		Offset:   int32(le.Uint32(buf[17:])),
		Modifier: le.Uint64(buf[21:]),
		Planes:   buf[29],
		Flip:     buf[30],
		WindowID: le.Uint32(buf[31:]),
	}
	if t.Planes < 1 || t.Planes > MaxPlanes {
		return TextureData{}, fmt.Errorf("wire: texture declares %d planes, want 1..%d", t.Planes, MaxPlanes)
	}
	return t, nil
}

// BodySize returns the remaining record length after the tag byte, or an
// error for an unknown tag. Receivers read the tag first so ancillary data
// attaches to a known record boundary, then read exactly this many bytes.
func BodySize(tag byte) (int, error) {
	switch tag {
	case TypeClientData:
		return ClientDataSize - 1, nil
	case TypeTextureData:
		return TextureDataSize - 1, nil
	default:
		return 0, fmt.Errorf("wire: unknown record tag %d", tag)
	}
}
