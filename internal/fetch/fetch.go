// Package fetch retrieves query result objects from remote storage and
// decodes them into a lazy row sequence. Delimited results stream row by
// row; columnar results are decoded per object. Multi-part results are
// concatenated in ascending key order.
package fetch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"

	qerrors "github.com/queryctl/queryctl/internal/errors"
	"github.com/queryctl/queryctl/internal/observability"
	"github.com/queryctl/queryctl/internal/storage"
)

// Type names the declared type of a result column.
type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeFloat   Type = "float"
	TypeBoolean Type = "boolean"
)

type Column struct {
	Name string
	Type Type
}

// Schema is the ordered column list of a result set.
type Schema []Column

// Value is one typed cell. Exactly one of the typed fields is meaningful,
// selected by Type; Null overrides all of them.
type Value struct {
	Type  Type
	Null  bool
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

func (v Value) String() string {
	if v.Null {
		return "NULL"
	}
	switch v.Type {
	case TypeInteger:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

type Row []Value

// ResultSet is a finite, non-restartable sequence of rows. Next returns
// io.EOF after the final row. Re-iteration requires a new fetch.
type ResultSet interface {
	Schema() Schema
	Next() (Row, error)
	Close() error
}

// Fetcher resolves a result location to an object store and decodes the
// object(s) behind it.
type Fetcher struct {
	opener storage.Opener
	logger *slog.Logger
}

func New(opener storage.Opener, logger *slog.Logger) (*Fetcher, error) {
	if opener == nil {
		return nil, fmt.Errorf("opener is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{opener: opener, logger: logger}, nil
}

// Fetch opens the result object(s) at location. A location ending in "/"
// names a multi-part prefix whose parts are concatenated in key order.
// The schema hint, when present, supplies declared column types; without
// it every column decodes as string.
func (f *Fetcher) Fetch(ctx context.Context, location string, hint Schema) (ResultSet, error) {
	bucket, key, err := storage.ParseURI(location)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindFetch, "resolve result location", err)
	}
	store, err := f.opener.Open(bucket)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindFetch, "open result bucket", err)
	}

	keys := []string{key}
	if storage.IsPrefix(location) {
		infos, err := store.List(ctx, key)
		if err != nil {
			return nil, classifyStorageErr("list result parts", err)
		}
		keys = dataKeys(infos)
		if len(keys) == 0 {
			return nil, qerrors.New(qerrors.KindFetch, "no result objects under "+location).WithSubkind(qerrors.SubkindMissing)
		}
	}

	f.logger.Debug("fetching result", "location", location, "parts", len(keys))
	if isParquetKey(keys[0]) {
		return f.openParquet(ctx, store, keys, hint)
	}
	return f.openCSV(ctx, store, keys, hint)
}

func (f *Fetcher) openCSV(ctx context.Context, store storage.ObjectStore, keys []string, hint Schema) (ResultSet, error) {
	rs := &csvResultSet{ctx: ctx, store: store, keys: keys, hint: hint}
	if err := rs.advance(); err != nil {
		return nil, err
	}
	return rs, nil
}

// dataKeys drops service marker objects that accompany multi-part
// results, keeping only decodable parts.
func dataKeys(infos []storage.ObjectInfo) []string {
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		base := path.Base(info.Key)
		if base == "_SUCCESS" || strings.HasSuffix(base, ".metadata") {
			continue
		}
		keys = append(keys, info.Key)
	}
	return keys
}

func isParquetKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".parquet")
}

func classifyStorageErr(msg string, err error) error {
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return qerrors.Wrap(qerrors.KindFetch, msg, err).WithSubkind(qerrors.SubkindMissing)
	case errors.Is(err, storage.ErrAccessDenied):
		return qerrors.Wrap(qerrors.KindFetch, msg, err).WithSubkind(qerrors.SubkindAccessDenied)
	default:
		return qerrors.Wrap(qerrors.KindFetch, msg, err)
	}
}

func corruptErr(msg string, err error) error {
	return qerrors.Wrap(qerrors.KindFetch, msg, err).WithSubkind(qerrors.SubkindCorrupt)
}

// csvResultSet streams delimited parts one row at a time. The header row of
// the first part defines the schema; later parts repeat the header and must
// match it.
type csvResultSet struct {
	ctx    context.Context
	store  storage.ObjectStore
	keys   []string
	hint   Schema
	schema Schema
	header []string
	reader *csv.Reader
	body   io.ReadCloser
	closed bool
}

func (rs *csvResultSet) Schema() Schema { return rs.schema }

func (rs *csvResultSet) Next() (Row, error) {
	if rs.closed {
		return nil, io.EOF
	}
	for {
		record, err := rs.reader.Read()
		if err == nil {
			return rs.decodeRecord(record)
		}
		if errors.Is(err, io.EOF) {
			if len(rs.keys) == 0 {
				return nil, io.EOF
			}
			if err := rs.advance(); err != nil {
				return nil, err
			}
			continue
		}
		_ = rs.Close()
		return nil, corruptErr("decode result row", err)
	}
}

// advance closes the current part and opens the next one, consuming and
// checking its header row.
func (rs *csvResultSet) advance() error {
	if rs.body != nil {
		_ = rs.body.Close()
		rs.body = nil
	}
	key := rs.keys[0]
	rs.keys = rs.keys[1:]

	body, err := rs.store.Get(rs.ctx, key)
	if err != nil {
		rs.closed = true
		return classifyStorageErr(fmt.Sprintf("fetch result part %q", key), err)
	}
	rs.body = &meteredReadCloser{inner: body}
	rs.reader = csv.NewReader(rs.body)
	rs.reader.ReuseRecord = true

	header, err := rs.reader.Read()
	if err != nil {
		_ = rs.Close()
		return corruptErr(fmt.Sprintf("read result header of %q", key), err)
	}
	if rs.header == nil {
		rs.header = append([]string(nil), header...)
		schema, err := schemaFromHeader(rs.header, rs.hint)
		if err != nil {
			_ = rs.Close()
			return err
		}
		rs.schema = schema
		rs.reader.FieldsPerRecord = len(rs.header)
		return nil
	}
	if len(header) != len(rs.header) {
		_ = rs.Close()
		return corruptErr(fmt.Sprintf("result part %q header mismatch", key), nil)
	}
	for i := range header {
		if header[i] != rs.header[i] {
			_ = rs.Close()
			return corruptErr(fmt.Sprintf("result part %q header mismatch: column %q, want %q", key, header[i], rs.header[i]), nil)
		}
	}
	rs.reader.FieldsPerRecord = len(rs.header)
	return nil
}

func (rs *csvResultSet) decodeRecord(record []string) (Row, error) {
	row := make(Row, len(rs.schema))
	for i, raw := range record {
		value, err := decodeCell(raw, rs.schema[i].Type)
		if err != nil {
			_ = rs.Close()
			return nil, corruptErr(fmt.Sprintf("decode column %q", rs.schema[i].Name), err)
		}
		row[i] = value
	}
	return row, nil
}

func (rs *csvResultSet) Close() error {
	if rs.closed {
		return nil
	}
	rs.closed = true
	if rs.body == nil {
		return nil
	}
	return rs.body.Close()
}

func schemaFromHeader(header []string, hint Schema) (Schema, error) {
	if hint != nil && len(hint) != len(header) {
		return nil, corruptErr(fmt.Sprintf("header has %d columns, schema declares %d", len(header), len(hint)), nil)
	}
	schema := make(Schema, len(header))
	for i, name := range header {
		column := Column{Name: name, Type: TypeString}
		if hint != nil {
			column.Type = hint[i].Type
		}
		schema[i] = column
	}
	return schema, nil
}

// decodeCell parses one delimited field. An empty field in a non-string
// column is a null.
func decodeCell(raw string, typ Type) (Value, error) {
	if raw == "" && typ != TypeString {
		return Value{Type: typ, Null: true}, nil
	}
	switch typ {
	case TypeInteger:
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse integer %q: %w", raw, err)
		}
		return Value{Type: typ, Int: parsed}, nil
	case TypeFloat:
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse float %q: %w", raw, err)
		}
		return Value{Type: typ, Float: parsed}, nil
	case TypeBoolean:
		parsed, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return Value{}, fmt.Errorf("parse boolean %q: %w", raw, err)
		}
		return Value{Type: typ, Bool: parsed}, nil
	default:
		return Value{Type: TypeString, Str: raw}, nil
	}
}

// meteredReadCloser accounts downloaded bytes as they pass through.
type meteredReadCloser struct {
	inner io.ReadCloser
}

func (m *meteredReadCloser) Read(p []byte) (int, error) {
	n, err := m.inner.Read(p)
	if n > 0 {
		observability.AddFetchBytes(int64(n))
	}
	return n, err
}

func (m *meteredReadCloser) Close() error { return m.inner.Close() }

// bufferedResultSet serves rows decoded ahead of time.
type bufferedResultSet struct {
	schema Schema
	rows   []Row
	next   int
}

func (b *bufferedResultSet) Schema() Schema { return b.schema }

func (b *bufferedResultSet) Next() (Row, error) {
	if b.next >= len(b.rows) {
		return nil, io.EOF
	}
	row := b.rows[b.next]
	b.next++
	return row, nil
}

func (b *bufferedResultSet) Close() error { return nil }

// ReadAll drains a result set into memory, applying an optional row limit.
// A limit of zero keeps every row. Truncated reports whether the limit cut
// the sequence short.
func ReadAll(rs ResultSet, limit int) (rows []Row, truncated bool, err error) {
	defer func() {
		if closeErr := rs.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	for {
		if limit > 0 && len(rows) == limit {
			if _, nextErr := rs.Next(); nextErr == nil {
				return rows, true, nil
			} else if errors.Is(nextErr, io.EOF) {
				return rows, false, nil
			} else {
				return rows, false, nextErr
			}
		}
		row, nextErr := rs.Next()
		if errors.Is(nextErr, io.EOF) {
			return rows, false, nil
		}
		if nextErr != nil {
			return rows, false, nextErr
		}
		rows = append(rows, append(Row(nil), row...))
	}
}
