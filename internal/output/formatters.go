// Package output provides output formatting utilities for the Sol CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/colthorp/sol-cli-go/internal/catalog"
	"github.com/colthorp/sol-cli-go/internal/core"
	"github.com/colthorp/sol-cli-go/internal/report"
)

// Printer writes either JSON or human-readable text.
type Printer struct {
	out io.Writer
	raw bool
	now func() time.Time
}

// New returns a printer writing to w.
func New(w io.Writer, raw bool) *Printer {
	return &Printer{out: w, raw: raw, now: time.Now}
}

// Stdout returns a printer for standard output. Output that is not a
// terminal is always JSON.
func Stdout(raw bool) *Printer {
	return New(os.Stdout, raw || !term.IsTerminal(int(os.Stdout.Fd())))
}

// Raw reports whether the printer emits JSON.
func (p *Printer) Raw() bool {
	return p.raw
}

// PrintJSON prints a single item as formatted JSON.
func (p *Printer) PrintJSON(item interface{}) {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		return
	}
	fmt.Fprintln(p.out, string(data))
}

// StreamJSON writes items from ch as a compact JSON array as they arrive.
func StreamJSON[T any](w io.Writer, ch <-chan T) {
	fmt.Fprint(w, "[")
	first := true
	for item := range ch {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		if !first {
			fmt.Fprint(w, ",")
		}
		w.Write(data)
		first = false
	}
	fmt.Fprintln(w, "]")
}

// ImageRow is one line of an image listing.
type ImageRow struct {
	catalog.Image
	State  string `json:"state"`
	Stored bool   `json:"stored"`
}

// Images prints an image listing, newest first.
func (p *Printer) Images(sel catalog.Selection, day time.Time, rows []ImageRow) {
	if p.raw {
		p.PrintJSON(rows)
		return
	}
	fmt.Fprintf(p.out, "%s %s, %s\n", sel.ImageSet.Name(), sel, core.FormatDate(day))
	if len(rows) == 0 {
		fmt.Fprintln(p.out, "  (no images)")
		return
	}
	for _, r := range rows {
		when := r.Key
		if ts, err := r.Timestamp(); err == nil {
			when = ts.Format("15:04:05") + " UTC, " + humanize.RelTime(ts, p.now(), "ago", "from now")
		}
		marker := " "
		if r.Stored {
			marker = "*"
		}
		fmt.Fprintf(p.out, "%s %-40s %s\n", marker, r.Key, when)
	}
	fmt.Fprintf(p.out, "%d images (* = on disk)\n", len(rows))
}

// Prefetch prints a prefetch summary.
func (p *Printer) Prefetch(r catalog.PrefetchReport) {
	if p.raw {
		p.PrintJSON(r)
		return
	}
	fmt.Fprintf(p.out, "%d matching, %d already cached, %d downloaded (%s)",
		r.Matching, r.Matching-r.Missing, r.Fetched, humanize.Bytes(uint64(r.Bytes)))
	if len(r.Failed) > 0 {
		fmt.Fprintf(p.out, ", %d failed after retry", len(r.Failed))
	}
	fmt.Fprintln(p.out)
	for _, key := range r.Failed {
		fmt.Fprintf(p.out, "  failed: %s\n", key)
	}
}

// Saved reports a file written by the CLI.
func (p *Printer) Saved(path string, size int) {
	if p.raw {
		p.PrintJSON(map[string]interface{}{"path": path, "bytes": size})
		return
	}
	fmt.Fprintf(p.out, "Saved %s (%s)\n", path, humanize.Bytes(uint64(size)))
}

// Forecast prints the 45-day forecast as a table.
func (p *Printer) Forecast(f *report.Forecast) {
	if p.raw {
		p.PrintJSON(f)
		return
	}
	fmt.Fprintf(p.out, "45-Day AP and F10.7cm Flux Forecast, issued %s\n", f.Issued.Format("2006-01-02 15:04 MST"))
	fmt.Fprintln(p.out, indent(f.Prepared))
	fmt.Fprintln(p.out)
	fmt.Fprintf(p.out, "%-12s %4s %6s\n", "Date", "AP", "Flux")

	for _, pt := range f.AP.Points() {
		flux := "-"
		if v, ok := f.Flux[pt.Date]; ok {
			flux = fmt.Sprint(v)
		}
		fmt.Fprintf(p.out, "%-12s %4d %6s\n", core.FormatDate(pt.Date), pt.Value, flux)
	}
}

// Alert prints the geophysical alert.
func (p *Printer) Alert(a *report.Alert) {
	if p.raw {
		p.PrintJSON(a)
		return
	}
	fmt.Fprintf(p.out, "Geophysical Alert Message, issued %s\n", a.Issued.Format("2006-01-02 15:04 MST"))
	fmt.Fprintln(p.out, indent(a.Prepared))
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, strings.TrimRight(a.Body, "\n"))
}

// Frame prints one navigation step.
func (p *Printer) Frame(img catalog.Image, index, total int, path string) {
	if p.raw {
		p.PrintJSON(map[string]interface{}{"image": img, "index": index, "total": total, "path": path})
		return
	}
	fmt.Fprintf(p.out, "[%d/%d] %s -> %s\n", index+1, total, img.Key, path)
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
