package factstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Segment file layout: a 64-byte header, fact blocks (JSON arrays), a JSON
// block dictionary and a 32-byte footer carrying checksums.
const (
	MagicBytes    uint32 = 0x4B474653
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32
	BlockFacts    int    = 4096
	segmentExt           = ".kgf"
)

// SegmentHeader is the fixed header written at the start of every segment.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	FactCount  uint32
	BlockCount uint32
	CreatedAt  int64
	DictOffset int64
	DictSize   int64
	DataOffset int64
	DataSize   int64
}

// BlockEntry locates one block of facts relative to the data section.
type BlockEntry struct {
	Offset int64 `json:"o"`
	Len    int   `json:"l"`
	Count  int   `json:"c"`
}

type segmentDict struct {
	Metric string       `json:"metric"`
	Blocks []BlockEntry `json:"blocks"`
}

// SegmentStore appends one segment file per layer. Segment names carry a
// sequence number so Scan replays layers in append order.
type SegmentStore struct {
	dataDir string
	mu      sync.Mutex
	seq     int
	logger  *slog.Logger
}

// OpenSegmentStore opens (or creates) a segment store in dataDir.
func OpenSegmentStore(dataDir string) (*SegmentStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating fact store directory: %w", err)
	}
	s := &SegmentStore{
		dataDir: dataDir,
		logger:  slog.Default().With("component", "fact-store", "backend", "segment"),
	}
	paths, err := s.segmentPaths()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		var n int
		if _, err := fmt.Sscanf(filepath.Base(p), "layer_%06d_", &n); err == nil && n > s.seq {
			s.seq = n
		}
	}
	s.logger.Info("fact store opened", "dir", dataDir, "segments", len(paths))
	return s, nil
}

// Append writes facts as a new segment. It writes to a .tmp file first and
// renames on success, so a failed append leaves earlier layers intact.
func (s *SegmentStore) Append(ctx context.Context, metric string, facts []Fact) error {
	if metric == "" || strings.ContainsAny(metric, `/\`) {
		return fmt.Errorf("invalid metric name %q", metric)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	name := fmt.Sprintf("layer_%06d_%s%s", s.seq, metric, segmentExt)
	finalPath := filepath.Join(s.dataDir, name)
	tmpPath := finalPath + ".tmp"

	if err := writeSegment(ctx, tmpPath, metric, facts); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming segment file: %w", err)
	}
	s.logger.Info("layer appended", "metric", metric, "facts", len(facts), "segment", name)
	return nil
}

func writeSegment(ctx context.Context, path, metric string, facts []Fact) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()

	headerBytes := make([]byte, HeaderSize)
	if _, err := f.Write(headerBytes); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	dataStart := int64(HeaderSize)
	pos := dataStart
	dataCRC := crc32.NewIEEE()
	dict := segmentDict{Metric: metric}
	for start := 0; start < len(facts); start += BlockFacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+BlockFacts, len(facts))
		block, err := json.Marshal(facts[start:end])
		if err != nil {
			return fmt.Errorf("marshaling fact block: %w", err)
		}
		if _, err := f.Write(block); err != nil {
			return fmt.Errorf("writing fact block: %w", err)
		}
		dataCRC.Write(block)
		dict.Blocks = append(dict.Blocks, BlockEntry{Offset: pos - dataStart, Len: len(block), Count: end - start})
		pos += int64(len(block))
	}
	dataSize := pos - dataStart

	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], dataCRC.Sum32())
	binary.LittleEndian.PutUint64(footer[8:16], uint64(pos))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(len(dictData)))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(dataSize))
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}

	binary.LittleEndian.PutUint32(headerBytes[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(headerBytes[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(headerBytes[8:12], uint32(len(facts)))
	binary.LittleEndian.PutUint32(headerBytes[12:16], uint32(len(dict.Blocks)))
	binary.LittleEndian.PutUint64(headerBytes[16:24], uint64(time.Now().Unix()))
	binary.LittleEndian.PutUint64(headerBytes[24:32], uint64(pos))
	binary.LittleEndian.PutUint64(headerBytes[32:40], uint64(len(dictData)))
	binary.LittleEndian.PutUint64(headerBytes[40:48], uint64(dataStart))
	binary.LittleEndian.PutUint64(headerBytes[48:56], uint64(dataSize))
	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		return fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing segment file: %w", err)
	}
	return nil
}

// Scan replays every segment of metric in append order.
func (s *SegmentStore) Scan(ctx context.Context, metric string, fn func(Fact) error) error {
	paths, err := s.segmentPaths()
	if err != nil {
		return err
	}
	suffix := "_" + metric + segmentExt
	for _, p := range paths {
		if !strings.HasSuffix(p, suffix) {
			continue
		}
		r, err := OpenSegment(p)
		if err != nil {
			return err
		}
		if r.Metric() != metric {
			r.Close()
			continue
		}
		err = r.Facts(ctx, fn)
		r.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Metrics lists the distinct metrics stored, in first-append order.
func (s *SegmentStore) Metrics(ctx context.Context) ([]string, error) {
	paths, err := s.segmentPaths()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, p := range paths {
		r, err := OpenSegment(p)
		if err != nil {
			return nil, err
		}
		m := r.Metric()
		r.Close()
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *SegmentStore) Close() error { return nil }

func (s *SegmentStore) segmentPaths() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.dataDir, "layer_*"+segmentExt))
	if err != nil {
		return nil, fmt.Errorf("listing segments: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// SegmentReader reads a single layer segment.
type SegmentReader struct {
	file   *os.File
	header SegmentHeader
	dict   segmentDict
}

// OpenSegment validates the header and dictionary checksum of a segment.
func OpenSegment(path string) (*SegmentReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading segment header %s: %w", path, err)
	}
	magic := binary.LittleEndian.Uint32(headerBytes[0:4])
	if magic != MagicBytes {
		f.Close()
		return nil, fmt.Errorf("invalid segment file %s: bad magic bytes %x", path, magic)
	}
	header := SegmentHeader{
		Magic:      magic,
		Version:    binary.LittleEndian.Uint32(headerBytes[4:8]),
		FactCount:  binary.LittleEndian.Uint32(headerBytes[8:12]),
		BlockCount: binary.LittleEndian.Uint32(headerBytes[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(headerBytes[16:24])),
		DictOffset: int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
		DictSize:   int64(binary.LittleEndian.Uint64(headerBytes[32:40])),
		DataOffset: int64(binary.LittleEndian.Uint64(headerBytes[40:48])),
		DataSize:   int64(binary.LittleEndian.Uint64(headerBytes[48:56])),
	}
	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DictOffset+header.DictSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	if crc32.ChecksumIEEE(dictBytes) != binary.LittleEndian.Uint32(footer[0:4]) {
		f.Close()
		return nil, fmt.Errorf("segment %s: dictionary checksum mismatch", path)
	}
	var dict segmentDict
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	return &SegmentReader{file: f, header: header, dict: dict}, nil
}

func (r *SegmentReader) Metric() string    { return r.dict.Metric }
func (r *SegmentReader) FactCount() uint32 { return r.header.FactCount }

// Facts decodes every block and calls fn for each fact.
func (r *SegmentReader) Facts(ctx context.Context, fn func(Fact) error) error {
	for _, entry := range r.dict.Blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf := make([]byte, entry.Len)
		if _, err := r.file.ReadAt(buf, r.header.DataOffset+entry.Offset); err != nil {
			return fmt.Errorf("reading fact block: %w", err)
		}
		var facts []Fact
		if err := json.Unmarshal(buf, &facts); err != nil {
			return fmt.Errorf("parsing fact block: %w", err)
		}
		for _, f := range facts {
			if err := fn(f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *SegmentReader) Close() error {
	return r.file.Close()
}
