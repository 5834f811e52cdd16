package networking

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/golang/snappy"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	maxMsgSize   = 10 * 1024 * 1024 // 10MB
)

// Response codes.
const (
	respCodeSuccess     byte = 0x00
	respCodeAppError    byte = 0x01
	respCodeInvalidReq  byte = 0x02
	respCodeServerError byte = 0x03
)

// Message framing: uvarint length of the uncompressed payload, followed by
// the snappy block-compressed payload.

func readMessage(r io.Reader) ([]byte, error) {
	buf := make([]byte, maxMsgSize)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	buf = buf[:n]

	uncompressedSize, varintLen := binary.Uvarint(buf)
	if varintLen <= 0 {
		return nil, fmt.Errorf("invalid varint prefix")
	}
	if uncompressedSize > maxMsgSize {
		return nil, fmt.Errorf("message too large: %d", uncompressedSize)
	}

	decoded, err := snappy.Decode(nil, buf[varintLen:])
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	if uint64(len(decoded)) != uncompressedSize {
		return nil, fmt.Errorf("size mismatch: expected %d, got %d", uncompressedSize, len(decoded))
	}
	return decoded, nil
}

func writeMessage(w io.Writer, data []byte) error {
	varintBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(varintBuf, uint64(len(data)))
	if _, err := w.Write(varintBuf[:n]); err != nil {
		return err
	}
	_, err := w.Write(snappy.Encode(nil, data))
	return err
}

// readResponse reads a 1-byte response code followed by a framed message.
func readResponse(r io.Reader) (byte, []byte, error) {
	codeBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, codeBuf); err != nil {
		return 0, nil, err
	}
	data, err := readMessage(r)
	return codeBuf[0], data, err
}

func writeResponse(w io.Writer, code byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte{code}); err != nil {
		return err
	}
	return writeMessage(w, data)
}
