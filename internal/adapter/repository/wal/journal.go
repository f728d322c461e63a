package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/V4T54L/honeyledger/internal/domain"
)

const (
	segmentPrefix = "failed-"
	segmentSuffix = ".jsonl"
	filePerm      = 0644
	maxLineSize   = 1 << 20
)

// ErrJournalFull is returned when a write would exceed the journal's total size bound.
var ErrJournalFull = errors.New("failed-commit journal is full")

// Journal is a segmented append-only file journal of commit records that ended in Failed.
// Each line of a segment is one JSON-encoded domain.CommitRecord.
type Journal struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu             sync.Mutex
	currentSegment *os.File
	currentSize    int64
	totalSize      int64
	nextIndex      int
}

// NewJournal opens the journal in dir, creating the directory if needed, and appends to the
// newest existing segment.
func NewJournal(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory %s: %w", dir, err)
	}

	j := &Journal{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "failed_commit_journal"),
	}
	if err := j.openLatestSegment(); err != nil {
		return nil, err
	}
	return j, nil
}

// Write appends rec to the current segment and syncs it.
func (j *Journal) Write(ctx context.Context, rec domain.CommitRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal commit record for journal: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.currentSegment == nil {
		if err := j.rotate(); err != nil {
			return err
		}
	}
	if j.totalSize+int64(len(data)) > j.maxTotalSize {
		return fmt.Errorf("%w (%d + %d > %d bytes)", ErrJournalFull, j.totalSize, len(data), j.maxTotalSize)
	}

	n, err := j.currentSegment.Write(data)
	j.currentSize += int64(n)
	j.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write to journal segment: %w", err)
	}
	if err := j.currentSegment.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal segment: %w", err)
	}
	j.logger.Debug("journaled failed commit", "sequence_id", rec.SequenceID())

	if j.currentSize >= j.maxSegmentSize {
		if err := j.rotate(); err != nil {
			j.logger.Error("Failed to rotate journal segment", "error", err)
		}
	}
	return nil
}

// Replay calls handler for every journaled record, oldest first. Lines that cannot be
// decoded are logged and skipped.
func (j *Journal) Replay(ctx context.Context, handler func(rec domain.CommitRecord) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	segments, err := j.sortedSegments()
	if err != nil {
		return err
	}
	for _, path := range segments {
		if err := j.replaySegment(ctx, path, handler); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) replaySegment(ctx context.Context, path string, handler func(rec domain.CommitRecord) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec domain.CommitRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			j.logger.Warn("Failed to decode journal line, skipping", "segment", path, "error", err)
			continue
		}
		if err := handler(rec); err != nil {
			return fmt.Errorf("replay handler failed: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return nil
}

// Truncate removes every segment and starts a fresh one.
func (j *Journal) Truncate(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.currentSegment != nil {
		j.currentSegment.Close()
		j.currentSegment = nil
	}
	segments, err := j.sortedSegments()
	if err != nil {
		return err
	}
	for _, path := range segments {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove journal segment %s: %w", path, err)
		}
	}
	j.totalSize = 0
	j.nextIndex = 0
	j.logger.Info("Journal truncated", "segments", len(segments))
	return j.rotate()
}

// Size returns the total number of bytes held by the journal.
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.totalSize
}

// Close closes the current segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.currentSegment == nil {
		return nil
	}
	err := j.currentSegment.Close()
	j.currentSegment = nil
	return err
}

func (j *Journal) rotate() error {
	if j.currentSegment != nil {
		if err := j.currentSegment.Close(); err != nil {
			j.logger.Error("Failed to close journal segment before rotating", "error", err)
		}
		j.currentSegment = nil
	}

	path := filepath.Join(j.dir, segmentName(j.nextIndex))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create journal segment %s: %w", path, err)
	}
	j.nextIndex++
	j.currentSegment = f
	j.currentSize = 0
	j.logger.Debug("Rotated to new journal segment", "path", path)
	return nil
}

func (j *Journal) openLatestSegment() error {
	segments, err := j.sortedSegments()
	if err != nil {
		return err
	}

	var total int64
	for _, path := range segments {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat segment %s: %w", path, err)
		}
		total += info.Size()
	}
	j.totalSize = total
	j.nextIndex = len(segments)
	if len(segments) == 0 {
		return j.rotate()
	}

	latest := segments[len(segments)-1]
	if idx, ok := segmentIndex(filepath.Base(latest)); ok {
		j.nextIndex = idx + 1
	}
	info, err := os.Stat(latest)
	if err != nil {
		return fmt.Errorf("failed to stat latest segment %s: %w", latest, err)
	}
	if info.Size() >= j.maxSegmentSize {
		return j.rotate()
	}

	f, err := os.OpenFile(latest, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open latest segment %s: %w", latest, err)
	}
	j.currentSegment = f
	j.currentSize = info.Size()
	j.logger.Info("Opened existing journal segment", "path", latest, "size", j.currentSize, "total_size", j.totalSize)
	return nil
}

func (j *Journal) sortedSegments() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}
	var segments []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := segmentIndex(entry.Name()); ok {
			segments = append(segments, filepath.Join(j.dir, entry.Name()))
		}
	}
	// Zero-padded indexes sort lexically.
	sort.Strings(segments)
	return segments, nil
}

func segmentName(idx int) string {
	return fmt.Sprintf("%s%08d%s", segmentPrefix, idx, segmentSuffix)
}

func segmentIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	var idx int
	if _, err := fmt.Sscanf(strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix), "%d", &idx); err != nil {
		return 0, false
	}
	return idx, true
}
