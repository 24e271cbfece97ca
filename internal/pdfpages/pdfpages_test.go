package pdfpages

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/signintech/gopdf"
)

// makePDF builds an n-page document with a distinct drawing on every page.
func makePDF(t *testing.T, n int) []byte {
	t.Helper()
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	for i := 0; i < n; i++ {
		pdf.AddPage()
		pdf.Line(20, 20, 40+float64(i)*20, 200)
	}
	return pdf.GetBytesPdf()
}

func TestPageCount(t *testing.T) {
	data := makePDF(t, 6)
	n, err := PageCount(data)
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	if n != 6 {
		t.Errorf("expected 6 pages, got %d", n)
	}
}

func TestPageCountUnreadable(t *testing.T) {
	_, err := PageCount([]byte("not a pdf"))
	if !errors.Is(err, ErrUnreadablePDF) {
		t.Errorf("expected ErrUnreadablePDF, got %v", err)
	}
}

func TestValidateRange(t *testing.T) {
	tests := []struct {
		name              string
		start, end, total int
		wantErr           bool
	}{
		{"single first page", 1, 1, 6, false},
		{"full document", 1, 6, 6, false},
		{"middle", 3, 4, 6, false},
		{"start zero", 0, 2, 6, true},
		{"negative start", -1, 2, 6, true},
		{"end past total", 5, 7, 6, true},
		{"start after end", 4, 3, 6, true},
		{"empty document", 1, 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRange(tt.start, tt.end, tt.total)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPageRange) {
					t.Fatalf("expected ErrInvalidPageRange, got %v", err)
				}
				var rangeErr *InvalidPageRangeError
				if !errors.As(err, &rangeErr) {
					t.Fatalf("expected *InvalidPageRangeError, got %T", err)
				}
				if rangeErr.Total != tt.total {
					t.Errorf("expected total %d, got %d", tt.total, rangeErr.Total)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestExtractPagesInvalidRangeMessage(t *testing.T) {
	data := makePDF(t, 6)
	_, err := ExtractPages(data, 5, 9)
	if !errors.Is(err, ErrInvalidPageRange) {
		t.Fatalf("expected ErrInvalidPageRange, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "5-9") {
		t.Errorf("message should contain requested range, got %q", msg)
	}
	if !strings.Contains(msg, "6 pages") {
		t.Errorf("message should contain page count, got %q", msg)
	}
}

func TestExtractPages(t *testing.T) {
	data := makePDF(t, 6)

	tests := []struct {
		name       string
		start, end int
	}{
		{"single page", 2, 2},
		{"range", 3, 4},
		{"whole document", 1, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages, err := ExtractPages(data, tt.start, tt.end)
			if err != nil {
				t.Fatalf("ExtractPages: %v", err)
			}
			if want := tt.end - tt.start + 1; len(pages) != want {
				t.Fatalf("expected %d pages, got %d", want, len(pages))
			}
			for i, p := range pages {
				if p.Number != tt.start+i {
					t.Errorf("page %d: expected number %d, got %d", i, tt.start+i, p.Number)
				}
				n, err := PageCount(p.Data)
				if err != nil {
					t.Fatalf("PageCount of page %d: %v", p.Number, err)
				}
				if n != 1 {
					t.Errorf("page %d: expected single-page PDF, got %d pages", p.Number, n)
				}
			}
		})
	}
}

func TestExtractPagesDoesNotModifyInput(t *testing.T) {
	data := makePDF(t, 3)
	orig := append([]byte(nil), data...)
	if _, err := ExtractPages(data, 1, 3); err != nil {
		t.Fatalf("ExtractPages: %v", err)
	}
	if string(orig) != string(data) {
		t.Error("input bytes were modified")
	}
}

func TestDocumentReusedAcrossRanges(t *testing.T) {
	doc, err := Open(makePDF(t, 6))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if doc.PageCount() != 6 {
		t.Fatalf("expected 6 pages, got %d", doc.PageCount())
	}

	ranges := [][2]int{{1, 2}, {3, 4}, {5, 6}, {3, 4}}
	var wg sync.WaitGroup
	errs := make([]error, len(ranges))
	got := make([][]Page, len(ranges))
	for i, r := range ranges {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], errs[i] = doc.Extract(r[0], r[1])
		}()
	}
	wg.Wait()

	for i, r := range ranges {
		if errs[i] != nil {
			t.Fatalf("Extract(%d, %d): %v", r[0], r[1], errs[i])
		}
		if len(got[i]) != 2 || got[i][0].Number != r[0] || got[i][1].Number != r[1] {
			t.Errorf("Extract(%d, %d): unexpected pages %+v", r[0], r[1], got[i])
			continue
		}
		for _, p := range got[i] {
			if n, err := PageCount(p.Data); err != nil || n != 1 {
				t.Errorf("page %d: expected single-page PDF, got %d pages (%v)", p.Number, n, err)
			}
		}
	}

	if _, err := doc.Extract(6, 7); !errors.Is(err, ErrInvalidPageRange) {
		t.Errorf("expected ErrInvalidPageRange, got %v", err)
	}
}

func TestOpenUnreadable(t *testing.T) {
	if _, err := Open([]byte("not a pdf")); !errors.Is(err, ErrUnreadablePDF) {
		t.Errorf("expected ErrUnreadablePDF, got %v", err)
	}
}
