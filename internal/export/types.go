// Package export renders wiki pages to PDF and DOCX.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request contains parameters for an export operation.
type Request struct {
	Path    string
	Format  Format
	Version string // empty or "latest" for the working copy, otherwise a commit hash
}

// Page is the source material for one export.
type Page struct {
	Path      string
	Title     string
	Markdown  string
	Version   string
	UpdatedAt time.Time
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrContentUnavailable indicates page content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)

func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case FormatPDF, FormatDOCX:
		return Format(raw), nil
	case "":
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}
