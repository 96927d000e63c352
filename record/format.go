package record

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Magic is the four-byte ASCII tag that opens every .p2rec file.
const Magic = "P2RC"

// Version is the .p2rec format version this package reads and writes.
const Version uint32 = 1

// HeaderLen is the fixed header size; the metadata blob starts here.
const HeaderLen = 64

// DataType distinguishes a recorded entry's payload interpretation.
// spec.md's recording entry only ever sets it to 1 (binary) for
// captured transport bytes; 0 (text) is reserved for future use by
// tooling that synthesizes entries directly, e.g. from a paste buffer.
type DataType uint8

const (
	DataText   DataType = 0
	DataBinary DataType = 1
)

// ErrBadMagic is returned when a file does not open with "P2RC".
var ErrBadMagic = errors.New("record: bad magic, not a .p2rec file")

// ErrUnsupportedVersion is returned when a file's version field is one
// this package doesn't know how to read.
var ErrUnsupportedVersion = errors.New("record: unsupported version")

// Metadata is the informational JSON blob carried after the header;
// spec.md keeps it in the clear even when entries are sealed, so
// recordings stay identifiable and groupable without decrypting.
type Metadata struct {
	DeviceName    string `json:"deviceName"`
	RecordingDate string `json:"recordingDate"`
	TotalDuration int64  `json:"totalDuration"`
	EntryCount    uint32 `json:"entryCount"`
}

// Entry is one captured write, in order, relative to the recording's
// start time.
type Entry struct {
	DeltaMS  uint32
	DataType DataType
	Payload  []byte
}

// writeHeader emits the fixed 64-byte header: magic, version, start
// timestamp, metadata length, then zero-filled reserved bytes.
func writeHeader(w io.Writer, startNS int64, metaLen uint32) error {
	var buf [HeaderLen]byte
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], Version)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(startNS))
	binary.LittleEndian.PutUint32(buf[16:20], metaLen)
	_, err := w.Write(buf[:])
	return err
}

// readHeader parses and validates the fixed header, returning the
// recording's start timestamp and the metadata blob's byte length.
func readHeader(r io.Reader) (startNS int64, metaLen uint32, err error) {
	var buf [HeaderLen]byte
	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return 0, 0, fmt.Errorf("record: read header: %w", err)
	}
	if string(buf[0:4]) != Magic {
		return 0, 0, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(buf[4:8]); v != Version {
		return 0, 0, ErrUnsupportedVersion
	}
	startNS = int64(binary.LittleEndian.Uint64(buf[8:16]))
	metaLen = binary.LittleEndian.Uint32(buf[16:20])
	return startNS, metaLen, nil
}

// writeMetadata JSON-encodes meta and writes it verbatim (no padding);
// its length is what the header's metaLen field must equal.
func writeMetadata(w io.Writer, meta Metadata) ([]byte, error) {
	blob, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	_, err = w.Write(blob)
	return blob, err
}

func readMetadata(r io.Reader, metaLen uint32) (Metadata, error) {
	var meta Metadata
	blob := make([]byte, metaLen)
	if _, err := io.ReadFull(r, blob); err != nil {
		return meta, fmt.Errorf("record: read metadata: %w", err)
	}
	if err := json.Unmarshal(blob, &meta); err != nil {
		return meta, fmt.Errorf("record: parse metadata: %w", err)
	}
	return meta, nil
}

// writeEntry emits one entry in the bit-exact layout spec.md §6
// requires: u32 LE delta_ms, u8 data_type, u32 LE length, then the
// (possibly sealed) payload bytes.
func writeEntry(w io.Writer, deltaMS uint32, dataType DataType, payload []byte) error {
	var head [9]byte
	binary.LittleEndian.PutUint32(head[0:4], deltaMS)
	head[4] = byte(dataType)
	binary.LittleEndian.PutUint32(head[5:9], uint32(len(payload)))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readEntry reads one entry. io.EOF exactly at an entry boundary is a
// clean end of file; io.ErrUnexpectedEOF (a partial header or a
// truncated payload) means the file is invalid past this point.
func readEntry(r io.Reader) (deltaMS uint32, dataType DataType, payload []byte, err error) {
	var head [9]byte
	if _, err = io.ReadFull(r, head[:]); err != nil {
		return 0, 0, nil, err
	}
	deltaMS = binary.LittleEndian.Uint32(head[0:4])
	dataType = DataType(head[4])
	length := binary.LittleEndian.Uint32(head[5:9])
	payload = make([]byte, length)
	if _, err = io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return deltaMS, dataType, nil, err
	}
	return deltaMS, dataType, payload, nil
}
