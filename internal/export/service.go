// Package export provides backup export/import of a user's logs.
//
// An archive is a gzip-compressed tar holding manifest.json, meals.json and
// weights.json. With a password the whole archive is sealed by the crypto
// package.
package export

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kimhsiao/fitsync/backend/internal/crypto"
	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	syncpkg "github.com/kimhsiao/fitsync/backend/internal/sync"
)

// FormatVersion is written into every manifest.
const FormatVersion = "1"

const (
	manifestFile = "manifest.json"
	// upper bound for a single archive entry
	maxEntrySize = 64 << 20
)

var entryKinds = map[string]models.RecordKind{
	"meals.json":   models.KindMeal,
	"weights.json": models.KindWeight,
}

// Service exports and imports a user's meal and weight logs.
type Service struct {
	engine syncpkg.SynchronizerInterface
	dir    string
	now    func() time.Time
}

// NewService creates a Service writing default archives under dir.
func NewService(engine syncpkg.SynchronizerInterface, dir string) *Service {
	return &Service{engine: engine, dir: dir, now: time.Now}
}

// Dir returns the default archive directory.
func (s *Service) Dir() string {
	return s.dir
}

// ExportConfig holds export configuration.
type ExportConfig struct {
	OutputPath string `json:"outputPath,omitempty"`
	Password   string `json:"password,omitempty"`
}

// ImportConfig holds import configuration.
type ImportConfig struct {
	ArchivePath string `json:"archivePath"`
	Password    string `json:"password,omitempty"`
}

// Manifest describes the contents of an archive.
type Manifest struct {
	Version    string            `json:"version"`
	UserID     string            `json:"userId"`
	ExportedAt time.Time         `json:"exportedAt"`
	Counts     map[string]int    `json:"counts"`
	Checksums  map[string]string `json:"checksums"`
}

// ExportResult represents the result of an export operation.
type ExportResult struct {
	FilePath  string        `json:"filePath"`
	SizeBytes int64         `json:"sizeBytes"`
	Meals     int           `json:"meals"`
	Weights   int           `json:"weights"`
	Encrypted bool          `json:"encrypted"`
	Duration  time.Duration `json:"duration"`
}

// ImportResult represents the result of an import operation.
type ImportResult struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Export writes an archive of userID's local records.
func (s *Service) Export(ctx context.Context, userID string, cfg ExportConfig) (*ExportResult, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "user id is required")
	}
	start := s.now()

	manifest := Manifest{
		Version:    FormatVersion,
		UserID:     userID,
		ExportedAt: start.UTC(),
		Counts:     make(map[string]int),
		Checksums:  make(map[string]string),
	}

	files := make(map[string][]byte, len(entryKinds)+1)
	for name, kind := range entryKinds {
		recs := s.snapshot(ctx, userID, kind)
		data, err := json.Marshal(recs)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode records", err)
		}
		files[name] = data
		manifest.Counts[string(kind)] = len(recs)
		manifest.Checksums[name] = checksum(data)
	}

	mdata, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode manifest", err)
	}
	files[manifestFile] = mdata

	archive, err := pack(files)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to create archive", err)
	}
	if cfg.Password != "" {
		if archive, err = crypto.Seal(archive, cfg.Password); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encrypt archive", err)
		}
	}

	path := cfg.OutputPath
	if path == "" {
		path = filepath.Join(s.dir, ArchiveName(userID, start))
	}
	if err := writeAtomic(path, archive); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to write archive", err)
	}

	result := &ExportResult{
		FilePath:  path,
		SizeBytes: int64(len(archive)),
		Meals:     manifest.Counts[string(models.KindMeal)],
		Weights:   manifest.Counts[string(models.KindWeight)],
		Encrypted: cfg.Password != "",
		Duration:  s.now().Sub(start),
	}
	logging.Info("Export complete", map[string]interface{}{
		"user_id": userID,
		"path":    path,
		"meals":   result.Meals,
		"weights": result.Weights,
	})
	return result, nil
}

// Import restores records from an archive into userID's collections.
// Records whose id already exists locally are skipped.
func (s *Service) Import(ctx context.Context, userID string, cfg ImportConfig) (*ImportResult, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "user id is required")
	}
	start := s.now()

	raw, err := os.ReadFile(cfg.ArchivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.ErrNotFound, "archive not found")
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read archive", err)
	}

	if crypto.IsSealed(raw) {
		if cfg.Password == "" {
			return nil, apperrors.New(apperrors.ErrInvalid, "archive is encrypted: password required")
		}
		if raw, err = crypto.Open(raw, cfg.Password); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to decrypt archive", err)
		}
	}

	files, err := unpack(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIntegrity, "failed to read archive", err)
	}

	manifest, err := readManifest(files)
	if err != nil {
		return nil, err
	}
	if manifest.UserID != userID {
		return nil, apperrors.New(apperrors.ErrInvalid, "archive belongs to another user")
	}

	result := &ImportResult{}
	for name, kind := range entryKinds {
		data, ok := files[name]
		if !ok {
			continue
		}
		if checksum(data) != manifest.Checksums[name] {
			return nil, apperrors.Newf(apperrors.ErrIntegrity, "checksum mismatch for %s", name)
		}

		var recs []*models.Record
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrIntegrity, "failed to decode "+name, err)
		}

		existing := s.engine.List(ctx, userID, kind)
		for _, rec := range recs {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if rec == nil || rec.Kind != kind || rec.UserID != userID {
				result.Failed++
				continue
			}
			if _, ok := existing[rec.ID]; ok {
				result.Skipped++
				continue
			}
			if _, err := s.engine.Restore(ctx, rec); err != nil {
				logging.Warn("Import skipped invalid record", map[string]interface{}{
					"record_id": rec.ID,
					"error":     err.Error(),
				})
				result.Failed++
				continue
			}
			result.Imported++
		}
	}
	result.Duration = s.now().Sub(start)

	logging.Info("Import complete", map[string]interface{}{
		"user_id":  userID,
		"imported": result.Imported,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
	})
	return result, nil
}

// ArchiveName returns the default file name for an export made at t.
func ArchiveName(userID string, t time.Time) string {
	return fmt.Sprintf("fitsync_%s_%s.tar.gz", userID, t.UTC().Format("20060102_150405"))
}

// snapshot returns userID's records without local bookkeeping, oldest first.
func (s *Service) snapshot(ctx context.Context, userID string, kind models.RecordKind) []*models.Record {
	recs := s.engine.List(ctx, userID, kind)
	out := make([]*models.Record, 0, len(recs))
	for _, rec := range recs {
		c := rec.Clone()
		c.SyncStatus = ""
		c.PendingOperations = nil
		c.Conflicts = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func readManifest(files map[string][]byte) (*Manifest, error) {
	data, ok := files[manifestFile]
	if !ok {
		return nil, apperrors.New(apperrors.ErrIntegrity, "archive has no manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIntegrity, "failed to decode manifest", err)
	}
	if m.Version != FormatVersion {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unsupported archive version %q", m.Version)
	}
	return &m, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// pack builds a tar.gz of files in name order.
func pack(files map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	for _, name := range names {
		data := files[name]
		hdr := &tar.Header{
			Name:    name,
			Mode:    0600,
			Size:    int64(len(data)),
			ModTime: time.Unix(0, 0),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gzw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unpack reads the known entries of a tar.gz. Unknown names are ignored.
func unpack(archive []byte) (map[string][]byte, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, err
	}
	defer gzr.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gzr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if _, known := entryKinds[hdr.Name]; !known && hdr.Name != manifestFile {
			continue
		}
		if hdr.Size > maxEntrySize {
			return nil, fmt.Errorf("entry %s too large", hdr.Name)
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxEntrySize))
		if err != nil {
			return nil, err
		}
		files[hdr.Name] = data
	}
	return files, nil
}

// writeAtomic writes data to a temp file next to path then renames it.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
