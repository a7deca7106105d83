// Package serializer holds the common length-prefixed binary
// encode/decode helpers shared by every wire message type.
package serializer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"time"
)

// WriteFieldBytes writes the field length, then the field itself.
func WriteFieldBytes(buf *bufio.Writer, bytes []byte) error {
	size := uint32(len(bytes))
	if err := binary.Write(buf, binary.LittleEndian, &size); err != nil {
		return err
	}
	n, err := buf.Write(bytes)
	if err != nil {
		return err
	}
	if uint32(n) != size {
		return fmt.Errorf("unexpected num bytes written. Expected %v, got %v", size, n)
	}
	return nil
}

// ReadFieldBytes reads back a field written by WriteFieldBytes.
func ReadFieldBytes(buf *bufio.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(buf, binary.LittleEndian, &size); err != nil {
		return nil, err
	}

	bytes := make([]byte, size)
	read := uint32(0)
	for read < size {
		n, err := buf.Read(bytes[read:])
		if err != nil {
			return nil, err
		}
		read += uint32(n)
	}
	return bytes, nil
}

// WriteString writes a length-prefixed UTF-8 string.
func WriteString(buf *bufio.Writer, s string) error {
	return WriteFieldBytes(buf, []byte(s))
}

// ReadString reads back a string written by WriteString.
func ReadString(buf *bufio.Reader) (string, error) {
	b, err := ReadFieldBytes(buf)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteStringSlice writes a count-prefixed slice of strings.
func WriteStringSlice(buf *bufio.Writer, vals []string) error {
	if err := WriteUint32(buf, uint32(len(vals))); err != nil {
		return err
	}
	for _, v := range vals {
		if err := WriteString(buf, v); err != nil {
			return err
		}
	}
	return nil
}

// ReadStringSlice reads back a slice written by WriteStringSlice.
func ReadStringSlice(buf *bufio.Reader) ([]string, error) {
	count, err := ReadUint32(buf)
	if err != nil {
		return nil, err
	}
	vals := make([]string, count)
	for i := range vals {
		v, err := ReadString(buf)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// WriteUint32 writes a fixed-width uint32.
func WriteUint32(buf *bufio.Writer, v uint32) error {
	return binary.Write(buf, binary.LittleEndian, &v)
}

// ReadUint32 reads back a uint32 written by WriteUint32.
func ReadUint32(buf *bufio.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// WriteUint64 writes a fixed-width uint64.
func WriteUint64(buf *bufio.Writer, v uint64) error {
	return binary.Write(buf, binary.LittleEndian, &v)
}

// ReadUint64 reads back a uint64 written by WriteUint64.
func ReadUint64(buf *bufio.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// WriteBool writes a single boolean byte.
func WriteBool(buf *bufio.Writer, v bool) error {
	var b byte
	if v {
		b = 1
	}
	return buf.WriteByte(b)
}

// ReadBool reads back a boolean written by WriteBool.
func ReadBool(buf *bufio.Reader) (bool, error) {
	b, err := buf.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// WriteTime writes a time.Time as a unix nanosecond timestamp.
func WriteTime(buf *bufio.Writer, t time.Time) error {
	return WriteUint64(buf, uint64(t.UnixNano()))
}

// ReadTime reads back a time.Time written by WriteTime.
func ReadTime(buf *bufio.Reader) (time.Time, error) {
	ns, err := ReadUint64(buf)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(ns)), nil
}
