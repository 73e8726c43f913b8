package dataset

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DefaultCacheDir holds downloaded archives between runs.
const DefaultCacheDir = "~/.cache/trafficsign"

// ErrUnsafeArchive is returned for archive entries that would escape the
// destination directory.
var ErrUnsafeArchive = errors.New("unsafe path in archive")

// DownloadConfig configures dataset downloading
type DownloadConfig struct {
	URL           string
	CacheDir      string
	ForceDownload bool
}

// Downloader fetches and unpacks the GTSRB training archive.
type Downloader struct {
	config DownloadConfig
	client *http.Client
}

func NewDownloader(config DownloadConfig) *Downloader {
	if config.URL == "" {
		config.URL = ArchiveURL
	}
	if config.CacheDir == "" {
		config.CacheDir = DefaultCacheDir
	}

	// Expand ~ to home directory
	if strings.HasPrefix(config.CacheDir, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			config.CacheDir = filepath.Join(homeDir, config.CacheDir[1:])
		}
	}

	return &Downloader{
		config: config,
		client: &http.Client{},
	}
}

// CachePath is where the archive is stored once downloaded.
func (d *Downloader) CachePath() string {
	name := filepath.Base(d.config.URL)
	if name == "" || name == "." || name == "/" {
		name = "gtsrb.zip"
	}
	return filepath.Join(d.config.CacheDir, name)
}

// Fetch returns the cached archive, downloading it first if needed.
func (d *Downloader) Fetch(ctx context.Context) (string, error) {
	if err := os.MkdirAll(d.config.CacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	cachedPath := d.CachePath()
	if !d.config.ForceDownload {
		if _, err := os.Stat(cachedPath); err == nil {
			slog.Info("Using cached archive", "path", cachedPath)
			return cachedPath, nil
		}
	}

	slog.Info("Downloading GTSRB training archive", "url", d.config.URL)
	if err := d.downloadFile(ctx, d.config.URL, cachedPath); err != nil {
		return "", fmt.Errorf("failed to download dataset: %w", err)
	}

	slog.Info("Archive downloaded successfully", "path", cachedPath)
	return cachedPath, nil
}

// Install fetches the archive and extracts its class directories into
// root. It returns the number of files written.
func (d *Downloader) Install(ctx context.Context, root string) (int, error) {
	archive, err := d.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	return Extract(archive, root)
}

func (d *Downloader) downloadFile(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	tempPath := destPath + ".tmp"
	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	progress := &progressWriter{total: resp.ContentLength}
	_, err = io.Copy(io.MultiWriter(out, progress), resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("download failed: %w", err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to move file: %w", err)
	}
	return nil
}

type progressWriter struct {
	total, written, logged int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	// Log progress every 10MB
	if p.written-p.logged >= 10*1024*1024 {
		p.logged = p.written
		attrs := []any{"downloaded_mb", p.written / (1024 * 1024)}
		if p.total > 0 {
			attrs = append(attrs, "total_mb", p.total/(1024*1024),
				"progress", fmt.Sprintf("%.1f%%", float64(p.written)/float64(p.total)*100))
		}
		slog.Debug("Download progress", attrs...)
	}
	return len(b), nil
}

// Extract unpacks every file below a class directory (five digits, e.g.
// 00014) in the zip at archivePath into root, dropping whatever prefix
// the archive puts in front of the class directories. Other entries are
// ignored.
func Extract(archivePath, root string) (int, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	written := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rel, ok, err := classRelativePath(f.Name)
		if err != nil {
			return written, err
		}
		if !ok {
			continue
		}
		if err := extractFile(f, filepath.Join(root, rel)); err != nil {
			return written, err
		}
		written++
	}

	slog.Info("Extracted dataset", "root", root, "files", written)
	return written, nil
}

func classRelativePath(name string) (string, bool, error) {
	parts := strings.Split(filepath.ToSlash(name), "/")
	for _, p := range parts {
		if p == ".." {
			return "", false, fmt.Errorf("%w: %s", ErrUnsafeArchive, name)
		}
	}
	for i := 0; i < len(parts)-1; i++ {
		if isClassDir(parts[i]) {
			return filepath.Join(parts[i:]...), true, nil
		}
	}
	return "", false, nil
}

func isClassDir(name string) bool {
	if len(name) != 5 {
		return false
	}
	for _, c := range name {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return out.Close()
}
