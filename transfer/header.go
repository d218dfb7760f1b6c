package transfer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/Dyastin-0/lanshare/core"
)

// Single byte responses written by the receiving side.
const (
	ResponseRejected byte = 0x00
	ResponseAccepted byte = 0x01
	ResponseComplete byte = 0x02
)

const (
	MaxFilenameLength = math.MaxUint16

	lengthSize = 2
	sizeSize   = 8
)

// Header opens every transfer: u16 name length, name bytes, u64 size, all
// big-endian.
type Header struct {
	Filename string
	Size     uint64
}

func (h Header) Encode() ([]byte, error) {
	if len(h.Filename) > MaxFilenameLength {
		return nil, core.ErrFilenameTooLong
	}

	buf := bytes.NewBuffer(make([]byte, 0, lengthSize+len(h.Filename)+sizeSize))

	if err := binary.Write(buf, binary.BigEndian, uint16(len(h.Filename))); err != nil {
		return nil, fmt.Errorf("failed to write name length: %w", err)
	}
	if _, err := buf.WriteString(h.Filename); err != nil {
		return nil, fmt.Errorf("failed to write name: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, h.Size); err != nil {
		return nil, fmt.Errorf("failed to write size: %w", err)
	}

	return buf.Bytes(), nil
}

func WriteHeader(w io.Writer, h Header) error {
	b, err := h.Encode()
	if err != nil {
		return err
	}

	_, err = w.Write(b)
	return err
}

// ReadHeader reads exactly one header from r. The filename must be UTF-8.
func ReadHeader(r io.Reader) (Header, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return Header{}, fmt.Errorf("failed to read name length: %w", err)
	}

	name := make([]byte, length)
	if _, err := io.ReadFull(r, name); err != nil {
		return Header{}, fmt.Errorf("failed to read name: %w", err)
	}
	if !utf8.Valid(name) {
		return Header{}, fmt.Errorf("%w: not utf-8", core.ErrInvalidFilename)
	}

	var size uint64
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return Header{}, fmt.Errorf("failed to read size: %w", err)
	}

	return Header{Filename: string(name), Size: size}, nil
}

// SanitizeFilename reduces a received name to its last path element so it
// can only ever land inside the download directory.
func SanitizeFilename(name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", core.ErrInvalidFilename, name)
	}

	base := path.Base(strings.ReplaceAll(name, `\`, "/"))

	switch base {
	case ".", "..", "/", "":
		return "", fmt.Errorf("%w: %q", core.ErrInvalidFilename, name)
	}

	return base, nil
}
