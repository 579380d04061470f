package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	qerrors "github.com/queryctl/queryctl/internal/errors"
	"github.com/queryctl/queryctl/internal/storage"
)

func newFetcher(t *testing.T, store *fakeStore) *Fetcher {
	t.Helper()
	fetcher, err := New(&fakeOpener{store: store}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return fetcher
}

func TestFetchDecodesTypedCSV(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"run-1/result.csv": []byte("id,name,score,active\n1,alice,1.5,true\n2,,0.25,false\n,bob,,true\n"),
	}}
	fetcher := newFetcher(t, store)
	hint := Schema{
		{Name: "id", Type: TypeInteger},
		{Name: "name", Type: TypeString},
		{Name: "score", Type: TypeFloat},
		{Name: "active", Type: TypeBoolean},
	}

	rs, err := fetcher.Fetch(context.Background(), "s3://results/run-1/result.csv", hint)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	rows, truncated, err := ReadAll(rs, 0)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if truncated {
		t.Fatal("unexpected truncation")
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][0].Int != 1 || rows[0][1].Str != "alice" || rows[0][2].Float != 1.5 || !rows[0][3].Bool {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[1][1].Str != "" || rows[1][1].Null {
		t.Fatalf("empty string column should not be null: %+v", rows[1][1])
	}
	if !rows[2][0].Null || !rows[2][2].Null {
		t.Fatalf("empty typed columns should be null: %+v", rows[2])
	}
}

func TestFetchWithoutHintDecodesStrings(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"run-1/result.csv": []byte("id,name\n1,alice\n"),
	}}
	fetcher := newFetcher(t, store)

	rs, err := fetcher.Fetch(context.Background(), "s3://results/run-1/result.csv", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer rs.Close()
	schema := rs.Schema()
	if len(schema) != 2 || schema[0].Name != "id" || schema[0].Type != TypeString {
		t.Fatalf("schema = %+v", schema)
	}
	row, err := rs.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if row[0].Str != "1" || row[1].Str != "alice" {
		t.Fatalf("row = %+v", row)
	}
}

func TestFetchEmptyResultKeepsSchema(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"run-1/result.csv": []byte("id,name\n"),
	}}
	fetcher := newFetcher(t, store)

	rs, err := fetcher.Fetch(context.Background(), "s3://results/run-1/result.csv", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer rs.Close()
	if len(rs.Schema()) != 2 {
		t.Fatalf("schema = %+v", rs.Schema())
	}
	if _, err := rs.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want io.EOF", err)
	}
}

func TestFetchConcatenatesMultiPartPrefix(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"run-1/part-0002.csv":          []byte("id\n3\n4\n"),
		"run-1/part-0001.csv":          []byte("id\n1\n2\n"),
		"run-1/part-0001.csv.metadata": []byte("ignored"),
		"run-1/_SUCCESS":               nil,
	}}
	fetcher := newFetcher(t, store)

	rs, err := fetcher.Fetch(context.Background(), "s3://results/run-1/", Schema{{Name: "id", Type: TypeInteger}})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	rows, _, err := ReadAll(rs, 0)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	got := make([]int64, 0, len(rows))
	for _, row := range rows {
		got = append(got, row[0].Int)
	}
	want := []int64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rows = %v, want %v", got, want)
		}
	}
}

func TestFetchMismatchedPartHeaderIsCorrupt(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"run-1/part-0001.csv": []byte("id,name\n1,alice\n"),
		"run-1/part-0002.csv": []byte("id,label\n2,bob\n"),
	}}
	fetcher := newFetcher(t, store)

	rs, err := fetcher.Fetch(context.Background(), "s3://results/run-1/", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer rs.Close()
	if _, err := rs.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	_, err = rs.Next()
	if !qerrors.IsKind(err, qerrors.KindFetch) {
		t.Fatalf("Next() error = %v, want kind %s", err, qerrors.KindFetch)
	}
	var qerr *qerrors.E
	if !errors.As(err, &qerr) || qerr.Subkind != qerrors.SubkindCorrupt {
		t.Fatalf("Next() error = %v, want subkind %s", err, qerrors.SubkindCorrupt)
	}
}

func TestFetchTruncatedObjectIsCorrupt(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"run-1/result.csv": []byte("id,name\n1,alice\n2\n"),
	}}
	fetcher := newFetcher(t, store)

	rs, err := fetcher.Fetch(context.Background(), "s3://results/run-1/result.csv", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if _, err := rs.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	_, err = rs.Next()
	if err == nil {
		t.Fatal("expected corrupt error")
	}
	if kind, sub := qerrors.KindOf(err); kind != qerrors.KindFetch || sub != qerrors.SubkindCorrupt {
		t.Fatalf("classification = %v/%v", kind, sub)
	}
}

func TestFetchUnparsableTypedCellIsCorrupt(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"run-1/result.csv": []byte("id\nnot-a-number\n"),
	}}
	fetcher := newFetcher(t, store)

	rs, err := fetcher.Fetch(context.Background(), "s3://results/run-1/result.csv", Schema{{Name: "id", Type: TypeInteger}})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	_, err = rs.Next()
	if kind, sub := qerrors.KindOf(err); kind != qerrors.KindFetch || sub != qerrors.SubkindCorrupt {
		t.Fatalf("classification = %v/%v (err = %v)", kind, sub, err)
	}
}

func TestFetchMissingObject(t *testing.T) {
	fetcher := newFetcher(t, &fakeStore{objects: map[string][]byte{}})

	_, err := fetcher.Fetch(context.Background(), "s3://results/run-1/result.csv", nil)
	if kind, sub := qerrors.KindOf(err); kind != qerrors.KindFetch || sub != qerrors.SubkindMissing {
		t.Fatalf("classification = %v/%v (err = %v)", kind, sub, err)
	}
}

func TestFetchAccessDenied(t *testing.T) {
	fetcher := newFetcher(t, &fakeStore{getErr: storage.ErrAccessDenied})

	_, err := fetcher.Fetch(context.Background(), "s3://results/run-1/result.csv", nil)
	if kind, sub := qerrors.KindOf(err); kind != qerrors.KindFetch || sub != qerrors.SubkindAccessDenied {
		t.Fatalf("classification = %v/%v (err = %v)", kind, sub, err)
	}
}

func TestFetchEmptyPrefixIsMissing(t *testing.T) {
	fetcher := newFetcher(t, &fakeStore{objects: map[string][]byte{}})

	_, err := fetcher.Fetch(context.Background(), "s3://results/run-1/", nil)
	if kind, sub := qerrors.KindOf(err); kind != qerrors.KindFetch || sub != qerrors.SubkindMissing {
		t.Fatalf("classification = %v/%v (err = %v)", kind, sub, err)
	}
}

type parquetFixtureRow struct {
	ID    int64   `parquet:"id"`
	Name  string  `parquet:"name"`
	Score float64 `parquet:"score"`
	Note  *string `parquet:"note,optional"`
}

func encodeParquetFixture(t *testing.T, rows []parquetFixtureRow) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetFixtureRow](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("writer.Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close() error = %v", err)
	}
	return buf.Bytes()
}

func TestFetchDecodesParquet(t *testing.T) {
	note := "vip"
	data := encodeParquetFixture(t, []parquetFixtureRow{
		{ID: 1, Name: "alice", Score: 1.5, Note: &note},
		{ID: 2, Name: "bob", Score: 0.5},
	})
	store := &fakeStore{objects: map[string][]byte{"run-1/result.parquet": data}}
	fetcher := newFetcher(t, store)

	rs, err := fetcher.Fetch(context.Background(), "s3://results/run-1/result.parquet", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	schema := rs.Schema()
	if len(schema) != 4 {
		t.Fatalf("schema = %+v", schema)
	}
	if schema[0].Name != "id" || schema[0].Type != TypeInteger {
		t.Fatalf("schema[0] = %+v", schema[0])
	}
	if schema[2].Type != TypeFloat {
		t.Fatalf("schema[2] = %+v", schema[2])
	}
	rows, _, err := ReadAll(rs, 0)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0][0].Int != 1 || rows[0][1].Str != "alice" || rows[0][3].Str != "vip" {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if !rows[1][3].Null {
		t.Fatalf("missing optional column should be null: %+v", rows[1][3])
	}
}

func TestFetchTruncatedParquetIsCorrupt(t *testing.T) {
	data := encodeParquetFixture(t, []parquetFixtureRow{{ID: 1, Name: "alice"}})
	store := &fakeStore{objects: map[string][]byte{"run-1/result.parquet": data[:len(data)/2]}}
	fetcher := newFetcher(t, store)

	_, err := fetcher.Fetch(context.Background(), "s3://results/run-1/result.parquet", nil)
	if kind, sub := qerrors.KindOf(err); kind != qerrors.KindFetch || sub != qerrors.SubkindCorrupt {
		t.Fatalf("classification = %v/%v (err = %v)", kind, sub, err)
	}
}

func TestReadAllHonorsLimit(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"run-1/result.csv": []byte("id\n1\n2\n3\n"),
	}}
	fetcher := newFetcher(t, store)

	rs, err := fetcher.Fetch(context.Background(), "s3://results/run-1/result.csv", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	rows, truncated, err := ReadAll(rs, 2)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(rows) != 2 || !truncated {
		t.Fatalf("rows = %d, truncated = %v", len(rows), truncated)
	}
}

type fakeOpener struct {
	store  *fakeStore
	bucket string
}

func (f *fakeOpener) Open(bucket string) (storage.ObjectStore, error) {
	f.bucket = bucket
	return f.store, nil
}

type fakeStore struct {
	objects map[string][]byte
	getErr  error
}

func (f *fakeStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (f *fakeStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	body, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(body))}, nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var infos []storage.ObjectInfo
	for key, body := range f.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, storage.ObjectInfo{Key: key, Size: int64(len(body))})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}
