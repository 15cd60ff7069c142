// Package assembler merges heterogeneous page blobs into one ordered
// multi-page PDF artifact. Single raster pages (JPEG, PNG) are wrapped
// as one PDF page each; blobs that are already PDFs contribute all of
// their internal pages in order.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/dkoutas/invoiceflow/internal/apperr"
	"github.com/dkoutas/invoiceflow/internal/blob"
	"github.com/dkoutas/invoiceflow/internal/models"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
)

// DecodedPage is one downloaded page blob, handed to the extraction
// adapter alongside the combined artifact.
type DecodedPage struct {
	PageNumber  int
	Data        []byte
	ContentType string
}

type Assembler struct {
	blobs blob.Store
}

func New(blobs blob.Store) *Assembler {
	return &Assembler{blobs: blobs}
}

// Assemble downloads every page blob, converts each to PDF and merges
// them in ascending page-number order regardless of upload arrival
// order. It returns the combined artifact plus the raw page buffers.
func (a *Assembler) Assemble(ctx context.Context, pages []models.PageRecord) ([]byte, []DecodedPage, error) {
	if len(pages) == 0 {
		return nil, nil, apperr.Assembly("no pages to assemble", nil)
	}

	ordered := make([]models.PageRecord, len(pages))
	copy(ordered, pages)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PageNumber < ordered[j].PageNumber })

	for _, p := range ordered {
		switch p.ContentType {
		case ContentTypePDF, ContentTypeJPEG, ContentTypePNG:
		default:
			return nil, nil, apperr.Assembly(fmt.Sprintf("page %d has unsupported content type %q", p.PageNumber, p.ContentType), nil)
		}
	}

	decoded, err := a.downloadPages(ctx, ordered)
	if err != nil {
		return nil, nil, err
	}

	tempDir, err := os.MkdirTemp("", "invoice-assembler-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	var pagePDFs []string
	for i, page := range decoded {
		pagePDF := filepath.Join(tempDir, fmt.Sprintf("page_%05d.pdf", page.PageNumber))
		switch page.ContentType {
		case ContentTypePDF:
			if err := os.WriteFile(pagePDF, page.Data, 0o600); err != nil {
				return nil, nil, fmt.Errorf("failed to write page %d to temp file: %w", page.PageNumber, err)
			}
			if err := api.ValidateFile(pagePDF, conf); err != nil {
				return nil, nil, apperr.Assembly(fmt.Sprintf("page %d is not a readable PDF", page.PageNumber), err)
			}
		case ContentTypeJPEG, ContentTypePNG:
			imgPath := filepath.Join(tempDir, fmt.Sprintf("page_%05d%s", page.PageNumber, imageExt(page.ContentType)))
			if err := os.WriteFile(imgPath, page.Data, 0o600); err != nil {
				return nil, nil, fmt.Errorf("failed to write page %d to temp file: %w", page.PageNumber, err)
			}
			if err := api.ImportImagesFile([]string{imgPath}, pagePDF, nil, conf); err != nil {
				return nil, nil, apperr.Assembly(fmt.Sprintf("page %d is not a readable image", page.PageNumber), err)
			}
		}
		pagePDFs = append(pagePDFs, pagePDF)
		slog.Debug("Prepared page for merge.", "pageNumber", page.PageNumber, "index", i)
	}

	combinedPath := filepath.Join(tempDir, "combined.pdf")
	if len(pagePDFs) == 1 {
		combinedPath = pagePDFs[0]
	} else if err := api.MergeCreateFile(pagePDFs, combinedPath, false, conf); err != nil {
		return nil, nil, apperr.Assembly("failed to merge pages into combined artifact", err)
	}

	artifact, err := os.ReadFile(combinedPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read combined artifact: %w", err)
	}
	return artifact, decoded, nil
}

// downloadPages fetches every page blob concurrently, preserving the
// ordered slice positions.
func (a *Assembler) downloadPages(ctx context.Context, ordered []models.PageRecord) ([]DecodedPage, error) {
	decoded := make([]DecodedPage, len(ordered))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(10)

	for i, p := range ordered {
		eg.Go(func() error {
			data, _, err := a.blobs.Get(gctx, p.ObjectRef)
			if err != nil {
				return apperr.Assembly(fmt.Sprintf("page %d blob %s is missing or unreadable", p.PageNumber, p.ObjectRef), err)
			}
			decoded[i] = DecodedPage{PageNumber: p.PageNumber, Data: data, ContentType: p.ContentType}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return decoded, nil
}

func imageExt(contentType string) string {
	if contentType == ContentTypePNG {
		return ".png"
	}
	return ".jpg"
}
