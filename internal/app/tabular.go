package app

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"insightchat/internal/model"
)

const (
	mediaTypeCSV = "text/csv"
	mediaTypeTSV = "text/tab-separated-values"
)

// IncomingFile is an upload before the tabular filter has run.
type IncomingFile struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// FilterTabular keeps only delimited-text uploads; everything else is
// discarded before a message is created.
func FilterTabular(files []IncomingFile) []model.Attachment {
	kept := make([]model.Attachment, 0, len(files))
	for _, f := range files {
		mediaType, ok := tabularMediaType(f)
		if !ok {
			continue
		}
		kept = append(kept, model.Attachment{
			OriginalName: f.Name,
			MediaType:    mediaType,
			SizeBytes:    f.Size,
			RawContent:   f.Data,
		})
	}
	return kept
}

// tabularMediaType accepts a file by extension, declared content type, or
// content sniffing, in that order.
func tabularMediaType(f IncomingFile) (string, bool) {
	switch strings.ToLower(filepath.Ext(f.Name)) {
	case ".csv":
		return mediaTypeCSV, true
	case ".tsv":
		return mediaTypeTSV, true
	}
	if declared, _, err := mime.ParseMediaType(f.ContentType); err == nil {
		if declared == mediaTypeCSV || declared == mediaTypeTSV {
			return declared, true
		}
	}
	detected := mimetype.Detect(f.Data)
	if detected.Is(mediaTypeCSV) {
		return mediaTypeCSV, true
	}
	if detected.Is(mediaTypeTSV) {
		return mediaTypeTSV, true
	}
	return "", false
}
