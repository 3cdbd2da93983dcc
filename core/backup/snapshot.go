package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/core/engine"
	"github.com/Nileshshinde09/cortex/core/errors"
)

// Injectable functions for testing
var (
	xzNewWriter        = xz.NewWriter
	xzNewReader        = xz.NewReader
	gzipNewWriterLevel = gzip.NewWriterLevel
	gzipNewReader      = gzip.NewReader
	osMkdirTemp        = os.MkdirTemp
	timeNow            = time.Now
)

// Archive member names.
const (
	manifestName = "manifest.json"
	databaseName = "database.ctx"
)

// SnapshotFormat identifies snapshot manifests.
const SnapshotFormat = "cortex-snapshot"

// Compression selects the snapshot archive compression.
type Compression string

const (
	// CompressionXZ uses XZ/LZMA2 (default, best ratio).
	CompressionXZ Compression = "xz"
	// CompressionGzip uses gzip (faster).
	CompressionGzip Compression = "gzip"
)

// Hashes are the digests of the database image inside a snapshot.
type Hashes struct {
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
}

// Manifest describes a snapshot archive.
type Manifest struct {
	Format      string      `json:"format"`
	Version     int         `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	Source      string      `json:"source"`
	Driver      string      `json:"driver"`
	PageCount   int         `json:"page_count"`
	PageSize    int         `json:"page_size"`
	SizeBytes   int64       `json:"size_bytes"`
	Compression Compression `json:"compression"`
	Hashes      Hashes      `json:"hashes"`
}

// SnapshotOptions configures Snapshot.
type SnapshotOptions struct {
	Compression  Compression
	PagesPerStep int
	Sleep        time.Duration
}

// Snapshot backs src up and packs the copy into a tar archive at
// archivePath holding manifest.json and the database image.
func Snapshot(ctx context.Context, src *cortex.Conn, archivePath string, opts *SnapshotOptions) (*Manifest, error) {
	if opts == nil {
		opts = &SnapshotOptions{}
	}
	if opts.Compression == "" {
		opts.Compression = CompressionXZ
	}

	dir, err := osMkdirTemp("", "cortex-snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(dir)

	image := filepath.Join(dir, databaseName)
	if err := Run(ctx, src, image, opts.PagesPerStep, opts.Sleep); err != nil {
		return nil, err
	}

	m := &Manifest{
		Format:      SnapshotFormat,
		Version:     1,
		CreatedAt:   timeNow().UTC(),
		Source:      src.Path(),
		Driver:      engine.DriverType(),
		Compression: opts.Compression,
	}
	if err := describeImage(ctx, image, m); err != nil {
		return nil, err
	}
	if err := writeArchive(archivePath, image, m); err != nil {
		os.Remove(archivePath)
		return nil, err
	}
	return m, nil
}

// describeImage fills the size, page and digest fields of m from the
// database image at path.
func describeImage(ctx context.Context, path string, m *Manifest) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot image: %w", err)
	}
	defer f.Close()
	h, n, err := hashReader(f)
	if err != nil {
		return fmt.Errorf("failed to hash snapshot image: %w", err)
	}
	m.Hashes = h
	m.SizeBytes = n

	img, err := cortex.OpenContext(ctx, path, cortex.WithReadOnly())
	if err != nil {
		return err
	}
	defer img.Close()
	row, err := img.FetchOne(ctx, "SELECT page_count, page_size FROM pragma_page_count, pragma_page_size")
	if err != nil {
		return err
	}
	pc, _ := row["page_count"].(int64)
	ps, _ := row["page_size"].(int64)
	m.PageCount = int(pc)
	m.PageSize = int(ps)
	return nil
}

func hashReader(r io.Reader) (Hashes, int64, error) {
	s := sha256.New()
	b := blake3.New()
	n, err := io.Copy(io.MultiWriter(s, b), r)
	if err != nil {
		return Hashes{}, 0, err
	}
	return Hashes{
		SHA256: hex.EncodeToString(s.Sum(nil)),
		BLAKE3: hex.EncodeToString(b.Sum(nil)),
	}, n, nil
}

func writeArchive(archivePath, image string, m *Manifest) (err error) {
	file, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close archive: %w", cerr)
		}
	}()

	var cw io.WriteCloser
	switch m.Compression {
	case CompressionGzip:
		cw, err = gzipNewWriterLevel(file, gzip.BestCompression)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
	case CompressionXZ:
		cw, err = xzNewWriter(file)
		if err != nil {
			return fmt.Errorf("failed to create xz writer: %w", err)
		}
	default:
		return errors.NewValidation("compression", fmt.Sprintf("unsupported compression %q", m.Compression))
	}
	tw := tar.NewWriter(cw)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize manifest: %w", err)
	}
	hdr := &tar.Header{Name: manifestName, Mode: 0644, Size: int64(len(data)), ModTime: m.CreatedAt}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	img, err := os.Open(image)
	if err != nil {
		return fmt.Errorf("failed to open snapshot image: %w", err)
	}
	defer img.Close()
	hdr = &tar.Header{Name: databaseName, Mode: 0644, Size: m.SizeBytes, ModTime: m.CreatedAt}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write database: %w", err)
	}
	if _, err := io.Copy(tw, img); err != nil {
		return fmt.Errorf("failed to write database: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("failed to finish compression: %w", err)
	}
	return nil
}

// DetectCompression detects the compression of a snapshot archive from
// its magic bytes.
func DetectCompression(archivePath string) (Compression, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	magic := make([]byte, 6)
	n, _ := io.ReadFull(f, magic)
	switch {
	case n >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		return CompressionGzip, nil
	case n == 6 && magic[0] == 0xfd && magic[1] == '7' && magic[2] == 'z' &&
		magic[3] == 'X' && magic[4] == 'Z' && magic[5] == 0x00:
		return CompressionXZ, nil
	}
	return "", errors.New("snapshot", errors.NOTADB, "unrecognized snapshot archive")
}

// readArchive reads the manifest and streams the database image into
// image, returning the digests of what was read.
func readArchive(archivePath string, image io.Writer) (*Manifest, Hashes, int64, error) {
	compression, err := DetectCompression(archivePath)
	if err != nil {
		return nil, Hashes{}, 0, err
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, Hashes{}, 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	var r io.Reader
	switch compression {
	case CompressionGzip:
		gz, err := gzipNewReader(f)
		if err != nil {
			return nil, Hashes{}, 0, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	default:
		xr, err := xzNewReader(f)
		if err != nil {
			return nil, Hashes{}, 0, fmt.Errorf("failed to create xz reader: %w", err)
		}
		r = xr
	}

	var (
		m      *Manifest
		hashes Hashes
		size   int64 = -1
	)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, Hashes{}, 0, errors.New("snapshot", errors.CORRUPT, "failed to read archive: "+err.Error())
		}
		switch hdr.Name {
		case manifestName:
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, Hashes{}, 0, fmt.Errorf("failed to read manifest: %w", err)
			}
			m = &Manifest{}
			if err := json.Unmarshal(data, m); err != nil {
				return nil, Hashes{}, 0, errors.New("snapshot", errors.CORRUPT, "invalid manifest: "+err.Error())
			}
		case databaseName:
			hashes, size, err = hashReader(io.TeeReader(tr, image))
			if err != nil {
				return nil, Hashes{}, 0, fmt.Errorf("failed to read database image: %w", err)
			}
		}
	}
	if m == nil || m.Format != SnapshotFormat {
		return nil, Hashes{}, 0, errors.New("snapshot", errors.FORMAT, "archive does not contain a cortex snapshot manifest")
	}
	if size < 0 {
		return nil, Hashes{}, 0, errors.New("snapshot", errors.CORRUPT, "archive does not contain a database image")
	}
	return m, hashes, size, nil
}

func checkDigests(m *Manifest, h Hashes, size int64) error {
	if size != m.SizeBytes || h.BLAKE3 != m.Hashes.BLAKE3 || h.SHA256 != m.Hashes.SHA256 {
		return errors.New("verify", errors.CORRUPT, "snapshot digest mismatch")
	}
	return nil
}

// Verify recomputes the digests of the database image in archivePath and
// checks them against the manifest.
func Verify(archivePath string) (*Manifest, error) {
	m, h, size, err := readArchive(archivePath, io.Discard)
	if err != nil {
		return nil, err
	}
	if err := checkDigests(m, h, size); err != nil {
		return m, err
	}
	return m, nil
}

// Restore verifies the snapshot at archivePath and copies it over the
// live database behind dst using the engine's restore path.
func Restore(ctx context.Context, dst *cortex.Conn, archivePath string) (*Manifest, error) {
	dir, err := osMkdirTemp("", "cortex-restore-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(dir)

	image := filepath.Join(dir, databaseName)
	f, err := os.Create(image)
	if err != nil {
		return nil, fmt.Errorf("failed to create restore image: %w", err)
	}
	m, h, size, err := readArchive(archivePath, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to write restore image: %w", cerr)
	}
	if err != nil {
		return nil, err
	}
	if err := checkDigests(m, h, size); err != nil {
		return m, err
	}
	return m, RestoreFile(ctx, dst, image)
}

// RestoreFile copies the database at srcPath over the live database
// behind dst.
func RestoreFile(ctx context.Context, dst *cortex.Conn, srcPath string) error {
	if dst.ReadOnly() {
		return errors.New("restore", errors.READONLY, "")
	}
	release, err := dst.Hold("restore_init")
	if err != nil {
		return err
	}
	defer release()

	var stepper engine.Stepper
	err = dst.Raw(func(dc any) error {
		var initErr error
		stepper, initErr = engine.NewRestore(dc, srcPath)
		return initErr
	})
	if err != nil {
		return err
	}
	step := func(n int) (bool, error) {
		var done bool
		err := dst.Raw(func(any) error {
			var stepErr error
			done, stepErr = stepper.Step(n)
			return stepErr
		})
		if err != nil {
			return false, engine.Classify("restore_step", err)
		}
		return done, nil
	}
	runErr := drive(ctx, step, -1, 0)
	finErr := dst.Raw(func(any) error { return stepper.Finish() })
	if runErr != nil {
		return runErr
	}
	if finErr != nil {
		return engine.Classify("restore_finish", finErr)
	}
	return nil
}
