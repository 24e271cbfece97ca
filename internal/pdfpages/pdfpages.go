// Package pdfpages splits a scanned PDF into single-page PDF documents.
//
// Pages are copied as PDF objects, never rasterized, so the OCR provider
// receives the original scan content.
package pdfpages

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// MIMEType is the content type of every extracted page.
const MIMEType = "application/pdf"

var (
	// ErrInvalidPageRange is matched by every *InvalidPageRangeError.
	ErrInvalidPageRange = errors.New("invalid page range")
	// ErrUnreadablePDF is returned when the input cannot be parsed as a PDF.
	ErrUnreadablePDF = errors.New("unreadable PDF")
)

func init() {
	// Keep pdfcpu from creating a config directory under $HOME.
	api.DisableConfigDir()
}

// Page is a single-page PDF cut from a larger document.
type Page struct {
	Number int    // 1-based page number in the source document
	Data   []byte // standalone single-page PDF
}

// InvalidPageRangeError reports a requested range that does not fit the document.
type InvalidPageRangeError struct {
	Start int
	End   int
	Total int
}

func (e *InvalidPageRangeError) Error() string {
	return fmt.Sprintf("invalid page range %d-%d: document has %d pages", e.Start, e.End, e.Total)
}

func (e *InvalidPageRangeError) Is(target error) bool {
	return target == ErrInvalidPageRange
}

// ValidateRange checks 1 ≤ start ≤ end ≤ total.
func ValidateRange(start, end, total int) error {
	if start < 1 || end > total || start > end {
		return &InvalidPageRangeError{Start: start, End: end, Total: total}
	}
	return nil
}

func newConfig() *pdfmodel.Configuration {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	return conf
}

// Document is a parsed PDF ready for repeated page extraction. It is safe
// for concurrent use.
type Document struct {
	mu  sync.Mutex
	ctx *pdfmodel.Context
}

// Open parses data once.
func Open(data []byte) (*Document, error) {
	conf := newConfig()
	conf.Cmd = pdfmodel.EXTRACTPAGES
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadablePDF, err)
	}
	return &Document{ctx: ctx}, nil
}

// PageCount returns the number of pages in the document.
func (d *Document) PageCount() int {
	return d.ctx.PageCount
}

// Extract returns pages start..end (1-based, inclusive) as standalone
// single-page PDFs, in ascending page order.
func (d *Document) Extract(start, end int) ([]Page, error) {
	if err := ValidateRange(start, end, d.ctx.PageCount); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	pages := make([]Page, 0, end-start+1)
	for n := start; n <= end; n++ {
		r, err := api.ExtractPage(d.ctx, n)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", n, err)
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", n, err)
		}
		pages = append(pages, Page{Number: n, Data: data})
	}
	return pages, nil
}

// PageCount returns the number of pages in data.
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), newConfig())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnreadablePDF, err)
	}
	return n, nil
}

// ExtractPages returns pages start..end (1-based, inclusive) of data as
// standalone single-page PDFs, in ascending page order.
func ExtractPages(data []byte, start, end int) ([]Page, error) {
	doc, err := Open(data)
	if err != nil {
		return nil, err
	}
	return doc.Extract(start, end)
}
