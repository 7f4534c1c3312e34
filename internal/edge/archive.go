package edge

import (
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// ---------------------------------------------------------------------------
// Report Archiver
// ---------------------------------------------------------------------------

// ErrEmptyArchive reports an attempt to restore from an empty blob.
var ErrEmptyArchive = errors.New("archive blob is empty")

// Archiver compresses evicted analysis reports into zstd blobs so they can be
// kept on constrained hardware or shipped off-device. Reports are JSON, which
// compresses well; the encoder and decoder are stateless under EncodeAll /
// DecodeAll and safe for concurrent use.
type Archiver struct {
	enc *zstd.Encoder
	dec *zstd.Decoder

	// Stats (atomic)
	totalOriginal   atomic.Int64
	totalCompressed atomic.Int64
	itemsArchived   atomic.Int64
}

// NewArchiver creates a report archiver. Aggressive memory mode uses the
// fastest encoder level; other modes trade CPU for a better ratio.
func NewArchiver(cfg Config) (*Archiver, error) {
	level := zstd.SpeedDefault
	if cfg.MemoryMode == MemoryModeAggressive {
		level = zstd.SpeedFastest
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}

	return &Archiver{enc: enc, dec: dec}, nil
}

// Close releases the encoder and decoder resources.
func (a *Archiver) Close() {
	a.enc.Close()
	a.dec.Close()
}

// CompressBytes compresses a raw report blob.
func (a *Archiver) CompressBytes(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	out := a.enc.EncodeAll(data, make([]byte, 0, len(data)/2))

	a.totalOriginal.Add(int64(len(data)))
	a.totalCompressed.Add(int64(len(out)))
	a.itemsArchived.Add(1)
	return out
}

// DecompressBytes restores a raw report blob.
func (a *Archiver) DecompressBytes(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyArchive
	}
	return a.dec.DecodeAll(data, nil)
}

// ArchiveReport marshals a report to JSON and compresses it.
func (a *Archiver) ArchiveReport(report any) ([]byte, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	return a.CompressBytes(data), nil
}

// RestoreReport decompresses a blob and unmarshals it into out.
func (a *Archiver) RestoreReport(blob []byte, out any) error {
	data, err := a.DecompressBytes(blob)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Stats returns a snapshot of archive effectiveness.
func (a *Archiver) Stats() ArchiveStats {
	return ArchiveStats{
		TotalOriginal:   a.totalOriginal.Load(),
		TotalCompressed: a.totalCompressed.Load(),
		ItemsArchived:   a.itemsArchived.Load(),
	}
}

// ---------------------------------------------------------------------------
// Archive Stats
// ---------------------------------------------------------------------------

// ArchiveStats tracks archiving effectiveness.
type ArchiveStats struct {
	TotalOriginal   int64
	TotalCompressed int64
	ItemsArchived   int64
}

// Ratio returns the compression ratio.
func (s ArchiveStats) Ratio() float64 {
	if s.TotalOriginal == 0 {
		return 0
	}
	return float64(s.TotalCompressed) / float64(s.TotalOriginal)
}

// Savings returns bytes saved.
func (s ArchiveStats) Savings() int64 {
	return s.TotalOriginal - s.TotalCompressed
}

// SavingsPercent returns percent savings.
func (s ArchiveStats) SavingsPercent() float64 {
	if s.TotalOriginal == 0 {
		return 0
	}
	return float64(s.Savings()) / float64(s.TotalOriginal) * 100
}
