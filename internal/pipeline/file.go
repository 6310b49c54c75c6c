package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"mediaforge/internal/models"
	"mediaforge/internal/storage"
)

const (
	maxPDFBytes    = 100 << 20
	pdfPreviewEdge = 500
)

var pdfPagesPattern = regexp.MustCompile(`(?m)^Pages:\s+(\d+)`)

// processFile validates generic uploads and, for PDFs, renders a first-page
// preview and records the page count. The raw object is the deliverable for
// this kind, so it is never deleted.
func (o *Orchestrator) processFile(ctx context.Context, asset models.Asset, logger *slog.Logger) error {
	info, err := o.store.Head(ctx, asset.ObjectKey)
	if err != nil {
		return infraError("head source", err)
	}
	detected, err := o.sniffObject(ctx, asset.ObjectKey, info.Size)
	if err != nil {
		return err
	}
	if err := o.rejectDenied(ctx, asset.ObjectKey, detected); err != nil {
		return err
	}

	mime := detected.String()
	update := storage.AssetUpdate{
		ResultKey: &asset.ObjectKey,
		MIMEType:  &mime,
		FileSize:  &info.Size,
	}

	if detected.Is("application/pdf") && info.Size <= maxPDFBytes {
		previewKey, pages, err := o.renderPDFPreview(ctx, asset)
		if err != nil {
			// A broken PDF still passes through as a plain file; only
			// infrastructure faults abort the attempt.
			if Retryable(err) {
				return err
			}
			logger.Warn("pdf preview failed, storing without preview", "error", err)
		} else {
			available := true
			update.Thumbnail = &previewKey
			update.PreviewAvailable = &available
			update.PageCount = &pages
		}
	}

	logger.Info("file processed", "mime", mime, "size", info.Size)
	return o.finalizeSuccess(ctx, asset.ID, update)
}

// renderPDFPreview downloads the document, renders page one as a bounded
// JPEG with pdftoppm, and reads the page count from pdfinfo.
func (o *Orchestrator) renderPDFPreview(ctx context.Context, asset models.Asset) (string, int, error) {
	scratch, err := o.scratchDir(asset.ID)
	if err != nil {
		return "", 0, err
	}
	defer os.RemoveAll(scratch)

	pdfPath := filepath.Join(scratch, "document.pdf")
	if err := o.store.DownloadFile(ctx, asset.ObjectKey, pdfPath); err != nil {
		return "", 0, infraError("download pdf", err)
	}

	previewPrefix := filepath.Join(scratch, "preview")
	err = o.runner.Run(ctx, o.tools.PDFToPPM,
		"-jpeg",
		"-f", "1",
		"-l", "1",
		"-scale-to", strconv.Itoa(pdfPreviewEdge),
		"-singlefile",
		pdfPath,
		previewPrefix,
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, deadlineError("render pdf preview", ctx.Err())
		}
		return "", 0, transcodeError("render pdf preview", err)
	}

	pages := 0
	if out, err := o.runner.RunOutput(ctx, o.tools.PDFInfo, pdfPath); err == nil {
		if match := pdfPagesPattern.FindSubmatch(out); match != nil {
			pages, _ = strconv.Atoi(string(match[1]))
		}
	}

	previewKey := processedKey(asset.ID, "preview.jpg")
	if err := o.store.UploadFile(ctx, previewKey, "image/jpeg", cacheLongLived, previewPrefix+".jpg"); err != nil {
		return "", 0, infraError("upload pdf preview", err)
	}
	return previewKey, pages, nil
}
