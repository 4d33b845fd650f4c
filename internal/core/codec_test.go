package core

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecode(t *testing.T) {
	mapping := ColumnMapping{
		{Column: "Code", Field: "code"},
		{Column: "qty", Processors: []ProcessorSpec{Proc("integer")}},
		{Column: "note", Processors: []ProcessorSpec{Proc("stringToNull")}},
		{Column: "created", Processors: []ProcessorSpec{Proc("toDatetime", "d/m/Y")}},
	}

	tests := []struct {
		name    string
		raw     map[string]string
		want    Fields
		wantErr bool
	}{
		{
			name: "all columns",
			raw:  map[string]string{"Code": " A1 ", "qty": "3 boxes", "note": "NULL", "created": "02/03/2024"},
			want: Fields{"code": "A1", "qty": int64(3), "note": nil, "created": "2024-03-02 00:00:00"},
		},
		{
			name: "empty and missing cells are absent",
			raw:  map[string]string{"Code": "A2", "qty": "   ", "unmapped": "x"},
			want: Fields{"code": "A2"},
		},
		{
			name:    "bad date",
			raw:     map[string]string{"Code": "A3", "created": "2024-03-02"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.raw, mapping, ImportTransforms())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var de *DataError
				if !errors.As(err, &de) || de.Column != "created" || de.Value != "2024-03-02" {
					t.Errorf("Decode() error = %#v, want DataError on created", err)
				}
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	mapping := ColumnMapping{
		{Column: "Code", Field: "code"},
		{Column: "Notes", Field: "note", Processors: []ProcessorSpec{Proc("nullToString")}},
		{Column: "Qty", Field: "qty", Processors: []ProcessorSpec{Proc("nullToZero")}},
	}
	e := LoadedRecord("products", Fields{"id": int64(4), "code": "P1", "note": nil, "qty": nil})

	row, err := Encode(e, "products", mapping, ExportTransforms())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Code", "Notes", "Qty"}, row.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"P1", "NULL", "0"}, row.Strings()); diff != "" {
		t.Errorf("cells mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_MissingField(t *testing.T) {
	mapping := ColumnMapping{{Column: "price"}}
	e := LoadedRecord("products", Fields{"id": int64(9)})

	_, err := Encode(e, "products", mapping, ExportTransforms())
	if !errors.Is(err, ErrData) {
		t.Fatalf("Encode() = %v, want data error", err)
	}
	want := `data error (entity products, column price): could not select field "price" for products id 9`
	if err.Error() != want {
		t.Errorf("Encode() error = %q, want %q", err.Error(), want)
	}
}

func TestDecodeEncode_RoundTrip(t *testing.T) {
	mapping := ColumnMapping{{Column: "code"}, {Column: "name"}}
	raw := map[string]string{"code": "X9", "name": "Widget"}

	fields, err := Decode(raw, mapping, ImportTransforms())
	if err != nil {
		t.Fatal(err)
	}
	row, err := Encode(NewRecord("t", fields), "t", mapping, ExportTransforms())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"X9", "Widget"}, row.Strings()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPadRows(t *testing.T) {
	short := OrderedRow{}
	short.Set("a", "1")
	wide := OrderedRow{}
	wide.Set("a", "2")
	wide.Set("b", nil)
	wide.Set("c", int64(3))

	header, records := PadRows([]OrderedRow{short, wide})
	if diff := cmp.Diff([]string{"a", "b", "c"}, header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	want := [][]string{{"1", "", ""}, {"2", "", "3"}}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	header, records = PadRows(nil)
	if header != nil || len(records) != 0 {
		t.Errorf("PadRows(nil) = %v, %v; want nil, empty", header, records)
	}
}

func TestOrderedRow_SetReplaces(t *testing.T) {
	var r OrderedRow
	r.Set("a", 1)
	r.Set("b", 2)
	r.Set("a", 3)
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	if v, _ := r.Get("a"); v != 3 {
		t.Errorf("Get(a) = %v, want 3", v)
	}
	if _, ok := r.Get("z"); ok {
		t.Error("Get(z) should miss")
	}
}
