package sticker

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
)

// Metadata is the sticker pack info WhatsApp clients read from the WebP
// EXIF chunk.
type Metadata struct {
	PackID    string
	PackName  string
	Publisher string
	Emojis    []string
}

const vp8xExifFlag = 0x04 // bit 2 of the VP8X flags byte

// SniffWebP reports whether data is a WebP container and whether it carries
// an ANIM chunk.
func SniffWebP(data []byte) (isWebP bool, isAnimated bool) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return false, false
	}

	pos := 12
	for pos+8 <= len(data) {
		fourCC := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		if fourCC == "ANIM" {
			return true, true
		}
		pos += 8 + size
		if pos%2 == 1 {
			pos++
		}
	}
	return true, false
}

// InjectMetadata rewrites the WebP container with an EXIF chunk holding the
// pack metadata, replacing any existing EXIF and forcing a VP8X header that
// advertises it. The payload layout follows wa-sticker-formatter: a TIFF
// little-endian header with one UNDEFINED entry under tag 0x5741 ("AW")
// pointing at a JSON document.
func InjectMetadata(data []byte, meta Metadata) ([]byte, error) {
	if ok, _ := SniffWebP(data); !ok {
		return nil, errors.New("sticker: payload is not a webp container")
	}

	chunks, err := splitChunks(data)
	if err != nil {
		return nil, err
	}

	exif := writeChunk("EXIF", exifPayload(meta))

	width, height := canvasSize(chunks)
	flags, hadVP8X := vp8xFlags(chunks)
	vp8x := writeChunk("VP8X", vp8xPayload(width, height, flags|vp8xExifFlag))

	var out [][]byte
	for _, ch := range chunks {
		switch ch.fourCC {
		case "VP8X":
			out = append(out, vp8x)
		case "EXIF":
			// replaced below
		default:
			out = append(out, writeChunk(ch.fourCC, ch.payload))
		}
	}
	if !hadVP8X {
		out = append([][]byte{vp8x}, out...)
	}
	out = append(out, exif)

	total := 4
	for _, c := range out {
		total += len(c)
	}

	buf := bytes.NewBuffer(make([]byte, 0, total+8))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(total))
	buf.WriteString("WEBP")
	for _, c := range out {
		buf.Write(c)
	}
	return buf.Bytes(), nil
}

func exifPayload(meta Metadata) []byte {
	doc, _ := json.Marshal(map[string]interface{}{
		"sticker-pack-id":        meta.PackID,
		"sticker-pack-name":      meta.PackName,
		"sticker-pack-publisher": meta.Publisher,
		"emojis":                 nonNil(meta.Emojis),
	})

	header := []byte{
		0x49, 0x49, 0x2a, 0x00, // TIFF little-endian magic
		0x08, 0x00, 0x00, 0x00, // IFD offset
		0x01, 0x00, // entry count
		0x41, 0x57, // tag 0x5741
		0x07, 0x00, // type UNDEFINED
		0x00, 0x00, 0x00, 0x00, // byte count, patched below
		0x16, 0x00, 0x00, 0x00, // value offset (22)
	}
	binary.LittleEndian.PutUint32(header[14:], uint32(len(doc)))

	return append(header, doc...)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type chunk struct {
	fourCC  string
	payload []byte
}

func splitChunks(data []byte) ([]chunk, error) {
	pos := 12
	var chunks []chunk
	for pos+8 <= len(data) {
		fourCC := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		if pos+8+size > len(data) {
			return nil, errors.New("sticker: truncated webp chunk")
		}
		chunks = append(chunks, chunk{fourCC: fourCC, payload: data[pos+8 : pos+8+size]})
		pos += 8 + size
		if pos%2 == 1 {
			pos++
		}
	}
	return chunks, nil
}

func writeChunk(fourCC string, payload []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(payload)+9))
	buf.WriteString(fourCC)
	binary.Write(buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	if len(payload)%2 == 1 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func vp8xFlags(chunks []chunk) (byte, bool) {
	for _, ch := range chunks {
		if ch.fourCC == "VP8X" && len(ch.payload) >= 1 {
			return ch.payload[0], true
		}
	}
	return 0, false
}

func canvasSize(chunks []chunk) (uint32, uint32) {
	for _, ch := range chunks {
		switch ch.fourCC {
		case "VP8X":
			if len(ch.payload) >= 10 {
				w := uint32(ch.payload[4]) | uint32(ch.payload[5])<<8 | uint32(ch.payload[6])<<16
				h := uint32(ch.payload[7]) | uint32(ch.payload[8])<<8 | uint32(ch.payload[9])<<16
				return w + 1, h + 1
			}
		case "VP8 ":
			// lossy keyframe: 3-byte start code then 14-bit dimensions
			if len(ch.payload) >= 10 && ch.payload[3] == 0x9d && ch.payload[4] == 0x01 && ch.payload[5] == 0x2a {
				w := binary.LittleEndian.Uint16(ch.payload[6:8]) & 0x3FFF
				h := binary.LittleEndian.Uint16(ch.payload[8:10]) & 0x3FFF
				if w > 0 && h > 0 {
					return uint32(w), uint32(h)
				}
			}
		case "VP8L":
			if len(ch.payload) >= 5 && ch.payload[0] == 0x2f {
				b1, b2, b3, b4 := ch.payload[1], ch.payload[2], ch.payload[3], ch.payload[4]
				w := 1 + uint32(b1) + uint32(b2&0x3F)<<8
				h := 1 + uint32(b2>>6) + uint32(b3)<<2 + uint32(b4&0x0F)<<10
				return w, h
			}
		}
	}
	return 512, 512
}

func vp8xPayload(width, height uint32, flags byte) []byte {
	if width == 0 || width > 0xFFFFFF {
		width = 512
	}
	if height == 0 || height > 0xFFFFFF {
		height = 512
	}

	p := make([]byte, 10)
	p[0] = flags
	w, h := width-1, height-1
	p[4], p[5], p[6] = byte(w), byte(w>>8), byte(w>>16)
	p[7], p[8], p[9] = byte(h), byte(h>>8), byte(h>>16)
	return p
}
