// Package render produces the printable artifact of a certificate.
//
// Rendering is staged: Render writes to a temporary file next to the final
// location and returns an Artifact. The caller commits the artifact once the
// certificate row is stored, or discards it if the insert lost a race for
// the identifier, so an existing certificate's file is never overwritten.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jmerrifield20/certledger/internal/certs/model"
)

// Renderer turns a stored certificate into a file artifact.
type Renderer interface {
	// Render stages the artifact for c. c must carry its final identifier
	// and integrity hash.
	Render(ctx context.Context, c *model.Certificate) (Artifact, error)

	// Format names the artifact kind, e.g. "pdf".
	Format() string
}

// Artifact is a staged render result.
type Artifact interface {
	// Reference is the location the artifact will have after Commit.
	Reference() string
	// Commit moves the staged file to Reference.
	Commit() error
	// Discard removes the staged file. Safe to call after Commit.
	Discard() error
}

// ContentType returns the MIME type for an artifact reference.
func ContentType(reference string) string {
	switch filepath.Ext(reference) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// FileName is the download name of the artifact for certificateID.
func FileName(certificateID, ext string) string {
	return "certificate_" + certificateID + ext
}

type fileArtifact struct {
	staged    string
	final     string
	committed bool
}

func (a *fileArtifact) Reference() string { return a.final }

func (a *fileArtifact) Commit() error {
	if err := os.Rename(a.staged, a.final); err != nil {
		return fmt.Errorf("commit artifact: %w", err)
	}
	a.committed = true
	return nil
}

func (a *fileArtifact) Discard() error {
	if a.committed {
		return nil
	}
	if err := os.Remove(a.staged); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard artifact: %w", err)
	}
	return nil
}

// stage writes the output of write to a uniquely named file in dir and
// returns the artifact pointing at dir/certificate_<id><ext>.
func stage(dir, certificateID, ext string, write func(path string) error) (Artifact, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	a := &fileArtifact{
		staged: filepath.Join(dir, ".staging-"+uuid.NewString()+ext),
		final:  filepath.Join(dir, FileName(certificateID, ext)),
	}
	if err := write(a.staged); err != nil {
		_ = a.Discard()
		return nil, err
	}
	return a, nil
}
