package emitter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/autodiag/pkg/automation"
)

// Format is an output rendering of a table.
type Format string

const (
	FormatText Format = "txt"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// AllFormats lists every supported format.
func AllFormats() []Format {
	return []Format{FormatText, FormatCSV, FormatJSON}
}

// FileEmitter writes tables and exports into a result tree:
//
//	<root>/<table>.<fmt>                          run-level tables
//	<root>/<account>/<table>.<fmt>                account tables
//	<root>/<account>/runbooks/<slot>/<name><ext>  runbook definitions
type FileEmitter struct {
	root    string
	formats []Format

	// one lock per output file
	locks sync.Map
}

// NewFileEmitter creates the result root and returns an emitter writing into it.
func NewFileEmitter(root string, formats ...Format) (*FileEmitter, error) {
	if len(formats) == 0 {
		formats = AllFormats()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create result directory: %w", err)
	}
	return &FileEmitter{root: root, formats: formats}, nil
}

// Root returns the result directory.
func (e *FileEmitter) Root() string {
	return e.root
}

func (e *FileEmitter) dir(acct automation.Account) string {
	if acct.Name == "" {
		return e.root
	}
	return filepath.Join(e.root, acct.Namespace())
}

// Emit writes the table in every configured format.
func (e *FileEmitter) Emit(ctx context.Context, acct automation.Account, table automation.Table) error {
	dir := e.dir(acct)
	base := filepath.Join(dir, filepath.FromSlash(table.Name))

	for _, f := range e.formats {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := Render(f, table)
		if err != nil {
			return fmt.Errorf("render %s as %s: %w", table.Name, f, err)
		}
		if err := e.write(base+"."+string(f), data); err != nil {
			return err
		}
	}

	log.Debug().
		Str("account", acct.Key()).
		Str("table", table.Name).
		Int("rows", table.Len()).
		Msg("table written")
	return nil
}

// Export writes a runbook definition.
func (e *FileEmitter) Export(ctx context.Context, acct automation.Account, export automation.RunbookExport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(e.dir(acct), "runbooks", string(export.Slot), export.FileName())
	return e.write(path, export.Content)
}

// WriteJSON writes v as indented JSON at a path relative to the root.
func (e *FileEmitter) WriteJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return e.write(filepath.Join(e.root, name), append(data, '\n'))
}

// Close is a no-op; every file is closed after it is written.
func (e *FileEmitter) Close() error {
	return nil
}

func (e *FileEmitter) lock(path string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (e *FileEmitter) write(path string, data []byte) error {
	mu := e.lock(path)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Render encodes a table in the given format.
func Render(f Format, table automation.Table) ([]byte, error) {
	switch f {
	case FormatText:
		return renderText(table)
	case FormatCSV:
		return renderCSV(table)
	case FormatJSON:
		return renderJSON(table)
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
}

func renderText(table automation.Table) ([]byte, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, strings.Join(table.Columns, "\t"))
	dashes := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		dashes[i] = strings.Repeat("-", len(c))
	}
	_, _ = fmt.Fprintln(w, strings.Join(dashes, "\t"))

	for _, row := range table.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = flatten(c)
		}
		_, _ = fmt.Fprintln(w, strings.Join(cells, "\t"))
	}

	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// flatten keeps multi-line values on one text row.
func flatten(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\t", " ")
}

func renderCSV(table automation.Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(table.Columns); err != nil {
		return nil, err
	}
	if err := w.WriteAll(table.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderJSON(table automation.Table) ([]byte, error) {
	data, err := json.MarshalIndent(table.Records(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
