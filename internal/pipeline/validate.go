package pipeline

import (
	"context"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// sniffBytes is how much of the object is fetched for content detection.
// Magic numbers for every type on the deny list sit well within 2KB.
const sniffBytes = 2048

// deniedMIMETypes lists content that must never pass through the pipeline,
// whatever extension it was uploaded under. Matched with MIME.Is so charset
// parameters and aliases are covered.
var deniedMIMETypes = []string{
	"application/x-dosexec",
	"application/x-executable",
	"application/x-elf",
	"application/x-sh",
	"application/x-mach-binary",
	"application/vnd.microsoft.portable-executable",
	"text/x-python",
	"text/javascript",
	"text/html",
}

// sniffObject reads the object's leading bytes and returns the detected MIME
// type. Objects smaller than the sniff window are read in full.
func (o *Orchestrator) sniffObject(ctx context.Context, key string, size int64) (*mimetype.MIME, error) {
	end := int64(sniffBytes - 1)
	if size > 0 && size-1 < end {
		end = size - 1
	}
	head, err := o.store.GetRange(ctx, key, 0, end)
	if err != nil {
		return nil, infraError("sniff", err)
	}
	return mimetype.Detect(head), nil
}

// rejectDenied deletes the raw object and fails the asset when its detected
// type is on the deny list. The delete happens before any decoder or tool
// ever touches the content.
func (o *Orchestrator) rejectDenied(ctx context.Context, key string, detected *mimetype.MIME) error {
	mime := detected.String()
	denied := false
	for candidate := detected; candidate != nil && !denied; candidate = candidate.Parent() {
		for _, blocked := range deniedMIMETypes {
			if candidate.Is(blocked) {
				denied = true
				break
			}
		}
	}
	if !denied {
		return nil
	}
	if err := o.store.Delete(ctx, key); err != nil {
		return infraError("delete rejected object", err)
	}
	return securityError("validate", fmt.Errorf("denied content type %s", mime))
}
