package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	ContentType     = "text/csv"
	DefaultFileName = "custom-report.csv"
)

// Table is the tabular shape the formatter consumes. Columns fixes the
// header order; when it is empty the first row's keys are used, sorted.
type Table struct {
	Columns []string
	Rows    []map[string]any
}

func (t Table) header() []string {
	if len(t.Columns) > 0 || len(t.Rows) == 0 {
		return t.Columns
	}
	keys := make([]string, 0, len(t.Rows[0]))
	for k := range t.Rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToDelimitedText renders t as comma-separated text: one header line, then
// one line per row. An empty table renders as "". Values containing a
// comma, a quote or a line break are quoted with inner quotes doubled.
func ToDelimitedText(t Table) string {
	if len(t.Rows) == 0 {
		return ""
	}
	var sb strings.Builder
	if err := WriteCSV(&sb, t); err != nil {
		// strings.Builder never fails to write
		panic(err)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// WriteCSV streams t to w. Each record, the header included, ends with a
// newline. An empty table writes nothing.
func WriteCSV(w io.Writer, t Table) error {
	if len(t.Rows) == 0 {
		return nil
	}
	header := t.header()
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(header))
	for i, row := range t.Rows {
		for j, col := range header {
			record[j] = FormatValue(row[col])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// FormatValue renders one cell. nil is the empty string; whole numbers
// print without a fractional part.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		return string(val)
	}
	return fmt.Sprint(v)
}

// FileName derives the download name for a report: "<name>.csv", or
// DefaultFileName when the name is blank. Path separators are dropped so
// the result is always a bare file name.
func FileName(reportName string) string {
	name := strings.TrimSpace(reportName)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return -1
		}
		return r
	}, name)
	name = strings.Trim(name, ". ")
	if name == "" {
		return DefaultFileName
	}
	if !strings.HasSuffix(strings.ToLower(name), ".csv") {
		name += ".csv"
	}
	return name
}

// ContentDisposition builds the attachment header for fileName. Names
// outside printable ASCII get an underscore-substituted filename plus a
// UTF-8 filename* parameter (RFC 6266, RFC 5987).
func ContentDisposition(fileName string) string {
	fallback := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, fileName)
	header := `attachment; filename="` + fallback + `"`
	if fallback == fileName {
		return header
	}
	return header + "; filename*=UTF-8''" + encodeExtValue(fileName)
}

const attrChars = "!#$&+-.^_`|~"

func encodeExtValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9', strings.IndexByte(attrChars, c) >= 0:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
