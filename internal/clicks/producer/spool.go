package producer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/pkg/types"
)

// Spool compression algorithms.
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

const (
	extSnappy = ".sz"
	extLZ4    = ".lz4"
)

// Spool is the local durable overflow buffer for click events: batches the
// producer could not hand to the queue are written as compressed
// newline-delimited JSON files and re-published on the next drain pass.
type Spool struct {
	dir       string
	algorithm string
	logger    *zap.Logger
}

// NewSpool creates the spool directory if needed. Unknown algorithms fall
// back to no compression.
func NewSpool(dir, algorithm string, logger *zap.Logger) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory %s: %w", dir, err)
	}
	switch algorithm {
	case CompressionSnappy, CompressionLZ4, CompressionNone:
	default:
		algorithm = CompressionNone
	}
	return &Spool{dir: dir, algorithm: algorithm, logger: logger}, nil
}

// Append durably writes one batch. The file lands under a temporary name
// and is renamed into place so a crashed write never leaves a half batch
// visible to Drain.
func (s *Spool) Append(events ...*types.ClickEvent) error {
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to encode spooled event: %w", err)
		}
	}

	payload, ext, err := s.compress(buf.Bytes())
	if err != nil {
		return err
	}

	name := "spool-" + uuid.NewString() + ".ndjson" + ext
	tmp := filepath.Join(s.dir, name+".tmp")
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write spool file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize spool file: %w", err)
	}

	s.logger.Info("Click events spooled to disk",
		zap.Int("events", len(events)),
		zap.String("file", name))
	return nil
}

// Drain replays every spooled event through publish, oldest file first,
// deleting each file once all of its events are re-published. A publish
// failure stops the drain and keeps the current file; already-published
// events from it will be delivered again on the next pass, which the
// at-least-once contract absorbs.
func (s *Spool) Drain(ctx context.Context, publish func(context.Context, *types.ClickEvent) error) (int, error) {
	files, err := s.pendingFiles()
	if err != nil {
		return 0, err
	}

	var drained int
	for _, file := range files {
		if ctx.Err() != nil {
			return drained, ctx.Err()
		}

		events, err := s.readFile(file)
		if err != nil {
			// Undecodable spool files are moved aside, not retried forever.
			s.logger.Error("Discarding unreadable spool file",
				zap.String("file", file), zap.Error(err))
			_ = os.Rename(filepath.Join(s.dir, file), filepath.Join(s.dir, file+".corrupt"))
			continue
		}

		for _, ev := range events {
			if err := publish(ctx, ev); err != nil {
				return drained, fmt.Errorf("spool drain publish: %w", err)
			}
			drained++
		}
		if err := os.Remove(filepath.Join(s.dir, file)); err != nil {
			return drained, fmt.Errorf("failed to remove drained spool file: %w", err)
		}
	}
	return drained, nil
}

// Pending reports how many spool files await draining.
func (s *Spool) Pending() (int, error) {
	files, err := s.pendingFiles()
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

func (s *Spool) pendingFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "spool-") ||
			strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".corrupt") {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

func (s *Spool) readFile(name string) ([]*types.ClickEvent, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}

	payload, err := decompress(raw, name)
	if err != nil {
		return nil, err
	}

	var events []*types.ClickEvent
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev types.ClickEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("undecodable spooled event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Spool) compress(payload []byte) ([]byte, string, error) {
	switch s.algorithm {
	case CompressionSnappy:
		return snappy.Encode(nil, payload), extSnappy, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			w.Close()
			return nil, "", fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), extLZ4, nil
	default:
		return payload, "", nil
	}
}

func decompress(raw []byte, name string) ([]byte, error) {
	switch {
	case strings.HasSuffix(name, extSnappy):
		payload, err := snappy.Decode(nil, raw)
		if err != nil {
			return nil, fmt.Errorf("snappy decompression failed: %w", err)
		}
		return payload, nil
	case strings.HasSuffix(name, extLZ4):
		payload, err := io.ReadAll(lz4.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression failed: %w", err)
		}
		return payload, nil
	default:
		return raw, nil
	}
}
