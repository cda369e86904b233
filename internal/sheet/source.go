// Package sheet loads input tables from local files, HTTP, or FTP and writes
// the augmented output table.
package sheet

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// ErrEmptySource means the table parsed fine but holds no data rows. A batch
// over nothing is a misconfiguration, not a no-op.
var ErrEmptySource = eris.New("sheet: no data rows")

// Table is a parsed input sheet. Rows hold the data records only; WebsiteCol
// indexes the column whose cells are resolved.
type Table struct {
	Header     []string
	Rows       [][]string
	WebsiteCol int
}

// Website returns the website cell of row i, trimmed. Rows shorter than the
// header return "".
func (t *Table) Website(i int) string {
	row := t.Rows[i]
	if t.WebsiteCol >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[t.WebsiteCol])
}

// LoadOptions configures remote fetches. The user agent matches the one page
// fetches send so the sheet host sees the same visitor.
type LoadOptions struct {
	UserAgent string
	Timeout   time.Duration
}

// Load reads the table at source, which may be a local path, an http(s) URL,
// or an ftp URL. Sources ending in .xlsx are parsed as a workbook (first
// sheet); everything else is CSV. The header must name a website column.
func Load(ctx context.Context, source string, opts LoadOptions) (*Table, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	data, err := fetch(ctx, source, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "sheet: fetch %s", source)
	}

	var header []string
	var rows [][]string
	if strings.HasSuffix(strings.ToLower(sourcePath(source)), ".xlsx") {
		header, rows, err = parseXLSX(data)
	} else {
		header, rows, err = parseCSV(data)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sheet: parse %s", source)
	}

	col, err := websiteColumn(header)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrEmptySource
	}

	zap.L().Debug("sheet loaded",
		zap.String("source", source),
		zap.Int("rows", len(rows)),
		zap.Int("website_col", col),
	)

	return &Table{Header: header, Rows: rows, WebsiteCol: col}, nil
}

func fetch(ctx context.Context, source string, opts LoadOptions) ([]byte, error) {
	if u, err := url.Parse(source); err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return fetchHTTP(ctx, source, opts)
		case "ftp":
			return fetchFTP(ctx, u, opts.Timeout)
		}
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, eris.Wrap(err, "read file")
	}
	return data, nil
}

// fetchHTTP downloads the sheet with transient-only retries. 5xx and 429 get
// retried; 4xx is permanent.
func fetchHTTP(ctx context.Context, rawURL string, opts LoadOptions) ([]byte, error) {
	client := &http.Client{Timeout: opts.Timeout}
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("sheet", "download")

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		req.Header.Set("User-Agent", opts.UserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "download")
		}
		defer func() { _ = resp.Body.Close() }()

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(
				eris.Errorf("status %d", resp.StatusCode), resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, eris.Errorf("status %d", resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "read body")
		}
		return data, nil
	})
}

// fetchFTP retrieves the sheet over FTP, logging in anonymously unless the
// URL carries credentials.
func fetchFTP(ctx context.Context, u *url.URL, timeout time.Duration) ([]byte, error) {
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "21")
	}
	if u.Path == "" {
		return nil, eris.New("empty path in ftp url")
	}

	user, pass := "anonymous", "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}

	zap.L().Debug("ftp: connecting", zap.String("host", host), zap.String("path", u.Path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ftp dial")
	}
	defer func() { _ = conn.Quit() }()

	if err := conn.Login(user, pass); err != nil {
		return nil, eris.Wrap(err, "ftp login")
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return nil, eris.Wrap(err, "ftp retrieve")
	}
	defer func() { _ = resp.Close() }()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, eris.Wrap(err, "ftp read")
	}
	return data, nil
}

// parseCSV decodes through a BOM-stripping reader so exports from
// spreadsheet tools parse cleanly. Cells pass through verbatim; only header
// matching trims.
func parseCSV(data []byte) ([]string, [][]string, error) {
	reader := csv.NewReader(unicode.UTF8BOM.NewDecoder().Reader(bytes.NewReader(data)))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, eris.Wrap(err, "csv: read")
	}
	if len(records) == 0 {
		return nil, nil, eris.New("csv: empty file")
	}
	return records[0], records[1:], nil
}

func parseXLSX(data []byte) ([]string, [][]string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, nil, eris.Wrap(err, "xlsx: open")
	}
	if len(f.Sheets) == 0 {
		return nil, nil, eris.New("xlsx: no sheets")
	}

	var all [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		all = append(all, cells)
	}
	if len(all) == 0 {
		return nil, nil, eris.New("xlsx: empty sheet")
	}
	return all[0], all[1:], nil
}

func websiteColumn(header []string) (int, error) {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), "website") {
			return i, nil
		}
	}
	return 0, eris.Errorf("sheet: no website column in header %v", header)
}

// sourcePath returns the path component used for extension sniffing.
func sourcePath(source string) string {
	if u, err := url.Parse(source); err == nil && u.Scheme != "" {
		return u.Path
	}
	return source
}
