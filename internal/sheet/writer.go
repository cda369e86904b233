package sheet

import (
	"encoding/json"
	"io"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// WriteTable writes header and rows with every cell double-quoted and
// internal quotes doubled. encoding/csv only quotes cells that need it, and
// the output contract wants uniform quoting, hence the local writer.
func WriteTable(w io.Writer, header []string, rows [][]string) error {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, quoteRow(header))
	for _, row := range rows {
		lines = append(lines, quoteRow(row))
	}

	if _, err := io.WriteString(w, strings.Join(lines, "\n")); err != nil {
		return eris.Wrap(err, "sheet: write table")
	}
	return nil
}

func quoteRow(cells []string) string {
	quoted := make([]string, len(cells))
	for i, c := range cells {
		quoted[i] = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}

// FormatEmails renders a resolved set as the emails cell: a sorted JSON
// array, "[]" when empty.
func FormatEmails(emails []string) string {
	sorted := make([]string, len(emails))
	copy(sorted, emails)
	sort.Strings(sorted)

	out, err := json.Marshal(sorted)
	if err != nil {
		return "[]"
	}
	return string(out)
}

// DeriveOutput returns the default output filename for a source:
// "<base>_emails.csv" in the working directory. URL sources use the URL path
// basename; sources without one fall back to "sheet".
func DeriveOutput(source string) string {
	path := source
	if u, err := url.Parse(source); err == nil && u.Scheme != "" {
		path = u.Path
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "sheet"
	}
	return base + "_emails.csv"
}
