package cfile

import (
	"bytes"
	"hash/crc32"

	"github.com/pierrec/lz4"

	"github.com/kudu-go/kudu/pkg/kuduerr"
	"github.com/kudu-go/kudu/pkg/schema"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// checksum computes the crc32c of payload, per spec §6 "Each data block:
// ... crc32c(payload) if checksummed".
func checksum(payload []byte) uint32 { return crc32.Checksum(payload, crcTable) }

// compress applies the column's configured Compression, grounded on
// matrixone's use of pierrec/lz4 for block compression.
func compress(c schema.Compression, payload []byte) ([]byte, error) {
	if c == schema.NoCompression {
		return payload, nil
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, kuduerr.Wrap(err, kuduerr.RuntimeError, "lz4 compress")
	}
	if err := w.Close(); err != nil {
		return nil, kuduerr.Wrap(err, kuduerr.RuntimeError, "lz4 compress close")
	}
	return buf.Bytes(), nil
}

func decompress(c schema.Compression, payload []byte) ([]byte, error) {
	if c == schema.NoCompression {
		return payload, nil
	}
	r := lz4.NewReader(bytes.NewReader(payload))
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, kuduerr.Wrap(err, kuduerr.Corruption, "lz4 decompress")
	}
	return buf.Bytes(), nil
}
