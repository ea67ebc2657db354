// Package effectiveview stores job partitions and materializes the
// effective (latest) rows of a dataset period.
package effectiveview

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
)

type Kind string

const (
	KindFact Kind = "fact"
	KindAgg  Kind = "agg"
)

const (
	partitionExt = ".columnar"
	manifestDir  = "manifests"
	manifestFile = "manifest.json"
)

var ErrInvalidPartition = errors.New("invalid_partition")

// Partition is one job's output for a period.
type Partition struct {
	Key   datasetdomain.Key
	JobID string
}

// Store persists partitions and period manifests.
type Store interface {
	WritePartition(ctx context.Context, p Partition, kind Kind, records []json.RawMessage) error
	// ReadPartition returns nil, nil when the partition does not exist.
	ReadPartition(ctx context.Context, p Partition, kind Kind) ([]json.RawMessage, error)
	RemovePeriod(ctx context.Context, key datasetdomain.Key) error
	WriteManifest(ctx context.Context, key datasetdomain.Key, m Manifest) error
	// ReadManifest returns nil, nil when the period has no effective view.
	ReadManifest(ctx context.Context, key datasetdomain.Key) (*Manifest, error)
}

// LocalStore keeps snappy-framed JSON lines under a root directory.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func periodDir(key datasetdomain.Key) string {
	return filepath.Join(
		"tenant_id="+key.TenantID,
		"platform="+key.Platform,
		fmt.Sprintf("year=%d", key.Year),
		fmt.Sprintf("month=%d", key.Month),
	)
}

// PartitionPath is <root>/<kind>_effective/tenant_id=.../month=<m>/job_id=<j>/<kind>.columnar.
func (s *LocalStore) PartitionPath(p Partition, kind Kind) string {
	return filepath.Join(s.root, string(kind)+"_effective", periodDir(p.Key), "job_id="+p.JobID, string(kind)+partitionExt)
}

func (s *LocalStore) manifestPath(key datasetdomain.Key) string {
	return filepath.Join(s.root, manifestDir, periodDir(key), manifestFile)
}

func (s *LocalStore) WritePartition(ctx context.Context, p Partition, kind Kind, records []json.RawMessage) error {
	if p.JobID == "" || p.Key.TenantID == "" || p.Key.Platform == "" {
		return ErrInvalidPartition
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeAtomic(s.PartitionPath(p, kind), func(w io.Writer) error {
		sw := snappy.NewBufferedWriter(w)
		for _, rec := range records {
			if _, err := sw.Write(rec); err != nil {
				return err
			}
			if _, err := sw.Write([]byte{'\n'}); err != nil {
				return err
			}
		}
		return sw.Close()
	})
}

func (s *LocalStore) ReadPartition(ctx context.Context, p Partition, kind Kind) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.PartitionPath(p, kind))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(snappy.NewReader(f))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var out []json.RawMessage
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		out = append(out, append(json.RawMessage(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read partition %s: %w", p.JobID, err)
	}
	return out, nil
}

// RemovePeriod deletes fact and agg partitions and the manifest of key.
func (s *LocalStore) RemovePeriod(_ context.Context, key datasetdomain.Key) error {
	dir := periodDir(key)
	return errors.Join(
		os.RemoveAll(filepath.Join(s.root, string(KindFact)+"_effective", dir)),
		os.RemoveAll(filepath.Join(s.root, string(KindAgg)+"_effective", dir)),
		os.RemoveAll(filepath.Join(s.root, manifestDir, dir)),
	)
}

func (s *LocalStore) WriteManifest(_ context.Context, key datasetdomain.Key, m Manifest) error {
	return writeAtomic(s.manifestPath(key), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
}

func (s *LocalStore) ReadManifest(_ context.Context, key datasetdomain.Key) (*Manifest, error) {
	data, err := os.ReadFile(s.manifestPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// writeAtomic writes into a temp file next to path and renames it over path.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// EncodeRows marshals each row to one JSON record.
func EncodeRows[T any](rows []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(rows))
	for i := range rows {
		b, err := json.Marshal(rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// DecodeRows is the inverse of EncodeRows.
func DecodeRows[T any](records []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		var v T
		if err := json.Unmarshal(rec, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
