package pairing

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/aelexs/archivebot/internal/domain"
)

const (
	imageName     = "latest-qr.png"
	timestampName = "latest-qr.updated"
	imageSize     = 256
)

// Artifact persists the latest accepted QR code as a PNG plus a sidecar
// file holding the RFC3339 write time.
type Artifact struct {
	dir       string
	freshness time.Duration
	clock     domain.Clock
}

func NewArtifact(dir string, freshness time.Duration, clock domain.Clock) *Artifact {
	if freshness <= 0 {
		freshness = domain.QRArtifactFreshness
	}
	return &Artifact{dir: dir, freshness: freshness, clock: clock}
}

// Write encodes code as a PNG and replaces the current artifact.
func (a *Artifact) Write(code string) error {
	png, err := qrcode.Encode(code, qrcode.Medium, imageSize)
	if err != nil {
		return fmt.Errorf("encode qr: %w", err)
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create qr dir: %w", err)
	}
	if err := a.replace(imageName, png); err != nil {
		return err
	}
	stamp := a.clock.Now().UTC().Format(time.RFC3339)
	return a.replace(timestampName, []byte(stamp))
}

// replace writes data to a temp file in the artifact directory and renames
// it over name, so readers never observe a partial file.
func (a *Artifact) replace(name string, data []byte) (err error) {
	tmp, err := os.CreateTemp(a.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp %s: %w", name, err)
	}
	defer func() {
		if cerr := tmp.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) && err == nil {
			err = fmt.Errorf("close temp %s: %w", name, cerr)
		}
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err = os.Rename(tmp.Name(), filepath.Join(a.dir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Latest returns the stored PNG and when it was written. ErrQRUnavailable
// means no code has been stored; ErrQRExpired means the code is older than
// the freshness window.
func (a *Artifact) Latest() ([]byte, time.Time, error) {
	raw, err := os.ReadFile(filepath.Join(a.dir, timestampName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, time.Time{}, domain.ErrQRUnavailable
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read qr timestamp: %w", err)
	}
	updated, err := time.Parse(time.RFC3339, strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse qr timestamp: %w", domain.ErrQRUnavailable)
	}

	png, err := os.ReadFile(filepath.Join(a.dir, imageName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, time.Time{}, domain.ErrQRUnavailable
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read qr image: %w", err)
	}

	if a.clock.Now().Sub(updated) > a.freshness {
		return nil, updated, domain.ErrQRExpired
	}
	return png, updated, nil
}

// Clear removes the stored artifact. Missing files are not an error.
func (a *Artifact) Clear() error {
	var errs []error
	for _, name := range []string{imageName, timestampName} {
		if err := os.Remove(filepath.Join(a.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
