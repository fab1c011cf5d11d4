// Package backup writes and restores compressed snapshots of the record
// partitions. A backup is the base64-alphabet compact encoding of a JSON
// envelope, safe to paste or mail as text.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/condo_sync/internal/codec"
	"github.com/cybertec-postgresql/condo_sync/internal/store"
)

// Version of the envelope format.
const Version = 1

var ErrUnsupportedVersion = errors.New("unsupported backup version")

// Envelope is the decoded content of a backup.
type Envelope struct {
	Version    int                          `json:"version"`
	ExportedAt time.Time                    `json:"exportedAt"`
	Data       map[string][]json.RawMessage `json:"data"`
}

// Summary describes a written backup.
type Summary struct {
	Records    int
	RawBytes   int
	Compressed int
	Ratio      float64
}

// Export snapshots every record partition of st into w.
func Export(ctx context.Context, st *store.Store, w io.Writer) (Summary, error) {
	data, err := st.ExportAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to export store: %w", err)
	}
	env := Envelope{Version: Version, ExportedAt: time.Now().UTC(), Data: data}

	raw, err := json.Marshal(env)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to encode backup: %w", err)
	}
	encoded, err := codec.CompressObject(env)
	if err != nil {
		return Summary{}, err
	}
	if _, err := io.WriteString(w, encoded); err != nil {
		return Summary{}, fmt.Errorf("failed to write backup: %w", err)
	}

	s := Summary{
		RawBytes:   codec.ByteSize(string(raw)),
		Compressed: codec.ByteSize(encoded),
		Ratio:      codec.CompressionRatio(string(raw), encoded),
	}
	for _, payloads := range data {
		s.Records += len(payloads)
	}
	return s, nil
}

// Read decodes a backup without applying it.
func Read(r io.Reader) (*Envelope, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	var env Envelope
	if err := codec.DecompressObject(strings.TrimSpace(string(content)), &env); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	return &env, nil
}

// Import restores a backup into st and returns the number of records written.
func Import(ctx context.Context, st *store.Store, r io.Reader) (int, error) {
	env, err := Read(r)
	if err != nil {
		return 0, err
	}
	return st.ImportAll(ctx, env.Data)
}

// ExportFile writes a backup to path.
func ExportFile(ctx context.Context, st *store.Store, path string) (Summary, error) {
	f, err := os.Create(path)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to create backup file: %w", err)
	}
	s, err := Export(ctx, st, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close backup file: %w", cerr)
	}
	if err != nil {
		return Summary{}, err
	}
	logrus.WithFields(logrus.Fields{
		"path":    path,
		"records": s.Records,
		"bytes":   s.Compressed,
		"ratio":   fmt.Sprintf("%.1f%%", s.Ratio),
	}).Info("Backup written")
	return s, nil
}

// ImportFile restores the backup at path.
func ImportFile(ctx context.Context, st *store.Store, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	n, err := Import(ctx, st, f)
	if err != nil {
		return n, err
	}
	logrus.WithFields(logrus.Fields{"path": path, "records": n}).Info("Backup restored")
	return n, nil
}
