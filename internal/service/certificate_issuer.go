package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/lms-cohort-api/internal/models"
	"github.com/noah-isme/lms-cohort-api/pkg/export"
	"github.com/noah-isme/lms-cohort-api/pkg/storage"
)

// IssueArtifactRequest carries everything the issuer needs for one artifact.
type IssueArtifactRequest struct {
	Certificate models.Certificate
	Template    models.CertificateTemplate
	StudentName string
	CourseTitle string
}

// CertificateIssuer renders and stores the certificate artifact. It is the
// external collaborator boundary: implementations are treated as fallible
// remote calls and invoked as a single synchronous attempt, under a timeout,
// with no automatic retries.
type CertificateIssuer interface {
	Issue(ctx context.Context, req IssueArtifactRequest) (artifactPath, artifactURL string, err error)
}

// PDFCertificateIssuer renders certificates to PDF and stores them locally,
// exposing signed download URLs.
type PDFCertificateIssuer struct {
	renderer     *export.CertificatePDF
	storage      *storage.LocalStorage
	signer       *storage.SignedURLSigner
	downloadPath string
	timeout      time.Duration
}

// NewPDFCertificateIssuer constructs the default issuer. basePath is the
// route-group prefix the download endpoint is mounted under.
func NewPDFCertificateIssuer(renderer *export.CertificatePDF, store *storage.LocalStorage, signer *storage.SignedURLSigner, basePath string, timeout time.Duration) *PDFCertificateIssuer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PDFCertificateIssuer{
		renderer:     renderer,
		storage:      store,
		signer:       signer,
		downloadPath: strings.TrimRight(basePath, "/") + "/certificates/download",
		timeout:      timeout,
	}
}

// Issue renders the PDF and persists it, returning the artifact location.
func (i *PDFCertificateIssuer) Issue(ctx context.Context, req IssueArtifactRequest) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	type rendered struct {
		path string
		url  string
		err  error
	}
	done := make(chan rendered, 1)
	go func() {
		data := export.CertificateData{
			StudentName:  req.StudentName,
			CourseTitle:  req.CourseTitle,
			SerialNumber: req.Certificate.SerialNumber,
			Title:        req.Template.Title,
			Subtitle:     req.Template.Subtitle,
			SignedBy:     req.Template.SignedBy,
			IssuedAt:     req.Certificate.IssuedAt,
		}
		payload, err := i.renderer.Render(data)
		if err != nil {
			done <- rendered{err: fmt.Errorf("render certificate: %w", err)}
			return
		}
		relPath := fmt.Sprintf("%s/%s.pdf", req.Certificate.CourseID, req.Certificate.ID)
		if _, err := i.storage.Save(relPath, payload); err != nil {
			done <- rendered{err: fmt.Errorf("store certificate: %w", err)}
			return
		}
		token, _, err := i.signer.Generate(req.Certificate.ID, relPath)
		if err != nil {
			done <- rendered{err: fmt.Errorf("sign certificate url: %w", err)}
			return
		}
		done <- rendered{path: relPath, url: i.downloadPath + "?token=" + token}
	}()

	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	case result := <-done:
		return result.path, result.url, result.err
	}
}
