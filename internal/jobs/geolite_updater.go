package jobs

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GeoLiteUpdateInterval matches MaxMind's weekly GeoLite release cadence.
const GeoLiteUpdateInterval = 7 * 24 * time.Hour

// Reloader reopens a database file after it was replaced.
type Reloader interface {
	Reload() error
}

// GeoLiteUpdaterJob keeps the GeoLite2 City database fresh. The database
// file's modification time records the last update.
type GeoLiteUpdaterJob struct {
	licenseKey  string
	urlTemplate string
	path        string
	reloader    Reloader
	client      *http.Client
	logger      *slog.Logger
	now         func() time.Time
}

// NewGeoLiteUpdaterJob returns an updater writing to path. urlTemplate must
// contain "{key}". reloader may be nil when nothing has the file open.
func NewGeoLiteUpdaterJob(licenseKey, urlTemplate, path string, reloader Reloader, logger *slog.Logger) *GeoLiteUpdaterJob {
	return &GeoLiteUpdaterJob{
		licenseKey:  licenseKey,
		urlTemplate: urlTemplate,
		path:        path,
		reloader:    reloader,
		client:      &http.Client{Timeout: 5 * time.Minute},
		logger:      logger,
		now:         time.Now,
	}
}

// Configured reports whether a license key is set.
func (j *GeoLiteUpdaterJob) Configured() bool {
	return j.licenseKey != ""
}

// Run downloads a new database when the current one is missing or older
// than GeoLiteUpdateInterval.
func (j *GeoLiteUpdaterJob) Run(ctx context.Context) error {
	if !j.Configured() {
		j.logger.Debug("GeoLite license key not configured, skipping update")
		return nil
	}

	lastUpdate := j.LastUpdate()
	if age := j.now().Sub(lastUpdate); age < GeoLiteUpdateInterval {
		j.logger.Debug("GeoLite database is up to date",
			slog.Time("last_update", lastUpdate),
			slog.Duration("age", age))
		return nil
	}

	j.logger.Info("Starting GeoLite database update", slog.Time("last_update", lastUpdate))
	if err := j.downloadAndUpdate(ctx); err != nil {
		j.logger.Error("Failed to update GeoLite database", slog.Any("error", err))
		return err
	}

	if j.reloader != nil {
		if err := j.reloader.Reload(); err != nil {
			return fmt.Errorf("reload geolite database: %w", err)
		}
	}
	j.logger.Info("GeoLite database updated successfully", slog.String("path", j.path))
	return nil
}

// LastUpdate returns when the database file was last written, or the zero
// time when it does not exist.
func (j *GeoLiteUpdaterJob) LastUpdate() time.Time {
	info, err := os.Stat(j.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (j *GeoLiteUpdaterJob) downloadAndUpdate(ctx context.Context) error {
	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	downloadURL := strings.ReplaceAll(j.urlTemplate, "{key}", j.licenseKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	// Extract next to the destination and rename, so readers never see a partial file.
	tmp, err := os.CreateTemp(dir, "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := extractMMDB(resp.Body, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to extract database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write database: %w", err)
	}
	return os.Rename(tmp.Name(), j.path)
}

// extractMMDB copies the first .mmdb entry of a tar.gz stream into dst.
func extractMMDB(src io.Reader, dst io.Writer) error {
	gzr, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		if strings.HasSuffix(header.Name, ".mmdb") {
			if _, err := io.Copy(dst, tr); err != nil {
				return fmt.Errorf("failed to extract file: %w", err)
			}
			return nil
		}
	}
	return errors.New("no .mmdb file found in archive")
}
