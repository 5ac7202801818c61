package downloader

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/laster13/rdt-client/internal/utils"
	"github.com/laster13/rdt-client/pkg/store"
)

// Unpacker is one running archive extraction. Start returns once the
// extraction has been dispatched; completion is observed through Finished
// and Err. Failures are terminal, no retry policy applies.
type Unpacker interface {
	Start(ctx context.Context) error
	Finished() bool
	Err() string
}

// NewUnpacker builds the unpack worker for a downloaded archive.
func NewUnpacker(download *store.Download, downloadPath string) Unpacker {
	return &archiveUnpacker{download: download, path: downloadPath}
}

type archiveUnpacker struct {
	state
	download *store.Download
	path     string
}

func (u *archiveUnpacker) Start(ctx context.Context) error {
	go func() {
		if err := u.extract(ctx); err != nil {
			u.finish(err.Error())
			return
		}
		u.finish("")
	}()
	return nil
}

func (u *archiveUnpacker) extract(ctx context.Context) error {
	filename := utils.FilenameFromURL(u.download.Link)
	archivePath := filepath.Join(u.path, filename)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".zip":
		if err := extractZip(ctx, archivePath, u.path); err != nil {
			return err
		}
	case ".rar":
		if err := extractRar(ctx, archivePath, u.path); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported archive: %s", filename)
	}

	// The archive itself is no longer needed once its contents are out.
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing archive %s: %w", archivePath, err)
	}
	return nil
}

func extractZip(ctx context.Context, archivePath, dest string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening zip %s: %w", archivePath, err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractZipEntry(file, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(file *zip.File, dest string) error {
	target, err := sanitizePath(dest, file.Name)
	if err != nil {
		return err
	}
	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, os.ModePerm)
	}
	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return err
	}
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("extracting %s: %w", file.Name, err)
	}
	return nil
}

// sanitizePath guards against entries escaping the destination directory.
func sanitizePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}
