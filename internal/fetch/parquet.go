package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	qerrors "github.com/queryctl/queryctl/internal/errors"
	"github.com/queryctl/queryctl/internal/storage"
)

// openParquet decodes columnar result parts. Parquet objects carry their
// own footer metadata, so each part is buffered and decoded whole; the
// declared schema comes from the file, not the hint.
func (f *Fetcher) openParquet(ctx context.Context, store storage.ObjectStore, keys []string, hint Schema) (ResultSet, error) {
	var schema Schema
	var rows []Row
	for _, key := range keys {
		partSchema, partRows, err := decodeParquetPart(ctx, store, key)
		if err != nil {
			return nil, err
		}
		if schema == nil {
			schema = partSchema
		} else if !schemasEqual(schema, partSchema) {
			return nil, corruptErr(fmt.Sprintf("result part %q schema mismatch", key), nil)
		}
		rows = append(rows, partRows...)
	}
	if hint != nil && len(hint) != len(schema) {
		return nil, corruptErr(fmt.Sprintf("result declares %d columns, schema expects %d", len(schema), len(hint)), nil)
	}
	return &bufferedResultSet{schema: schema, rows: rows}, nil
}

func decodeParquetPart(ctx context.Context, store storage.ObjectStore, key string) (Schema, []Row, error) {
	body, err := store.Get(ctx, key)
	if err != nil {
		return nil, nil, classifyStorageErr(fmt.Sprintf("fetch result part %q", key), err)
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(&meteredReadCloser{inner: body})
	if err != nil {
		return nil, nil, qerrors.Wrap(qerrors.KindFetch, fmt.Sprintf("read result part %q", key), err)
	}
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, corruptErr(fmt.Sprintf("open result part %q", key), err)
	}

	fields := file.Schema().Fields()
	schema := make(Schema, len(fields))
	for i, field := range fields {
		schema[i] = Column{Name: field.Name(), Type: typeForParquetKind(field.Type().Kind())}
	}

	var rows []Row
	for _, group := range file.RowGroups() {
		groupRows, err := readRowGroup(group, schema)
		if err != nil {
			return nil, nil, corruptErr(fmt.Sprintf("decode result part %q", key), err)
		}
		rows = append(rows, groupRows...)
	}
	return schema, rows, nil
}

func readRowGroup(group parquet.RowGroup, schema Schema) ([]Row, error) {
	reader := group.Rows()
	defer func() { _ = reader.Close() }()

	var rows []Row
	buf := make([]parquet.Row, 64)
	for {
		n, err := reader.ReadRows(buf)
		for i := 0; i < n; i++ {
			row, convErr := convertParquetRow(buf[i], schema)
			if convErr != nil {
				return nil, convErr
			}
			rows = append(rows, row)
		}
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func convertParquetRow(raw parquet.Row, schema Schema) (Row, error) {
	row := make(Row, len(schema))
	for i := range row {
		row[i] = Value{Type: schema[i].Type, Null: true}
	}
	for _, value := range raw {
		idx := value.Column()
		if idx < 0 || idx >= len(schema) {
			return nil, fmt.Errorf("value for unknown column index %d", idx)
		}
		row[idx] = convertParquetValue(value, schema[idx].Type)
	}
	return row, nil
}

func convertParquetValue(value parquet.Value, typ Type) Value {
	if value.IsNull() {
		return Value{Type: typ, Null: true}
	}
	switch value.Kind() {
	case parquet.Boolean:
		return Value{Type: TypeBoolean, Bool: value.Boolean()}
	case parquet.Int32:
		return Value{Type: TypeInteger, Int: int64(value.Int32())}
	case parquet.Int64:
		return Value{Type: TypeInteger, Int: value.Int64()}
	case parquet.Float:
		return Value{Type: TypeFloat, Float: float64(value.Float())}
	case parquet.Double:
		return Value{Type: TypeFloat, Float: value.Double()}
	default:
		return Value{Type: TypeString, Str: value.String()}
	}
}

func typeForParquetKind(kind parquet.Kind) Type {
	switch kind {
	case parquet.Boolean:
		return TypeBoolean
	case parquet.Int32, parquet.Int64, parquet.Int96:
		return TypeInteger
	case parquet.Float, parquet.Double:
		return TypeFloat
	default:
		return TypeString
	}
}

func schemasEqual(a, b Schema) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
