package tables

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/csvsync/internal/core"
)

func init() {
	registerInvoices()
	registerInvoiceLines()
}

func registerInvoices() {
	core.RegisterImporter(core.ImporterDefinition{
		Name:         "invoices",
		Table:        "invoices",
		File:         "invoices.csv",
		CacheKey:     "number",
		Dependencies: []string{"customers"},
		References: []core.Reference{
			{Field: "customer", Entity: "customers", Target: "customer_id"},
		},
		Mapping: core.ColumnMapping{
			{Column: "number", Processors: []core.ProcessorSpec{core.Proc("upper")}},
			{Column: "customer", Processors: []core.ProcessorSpec{core.Proc("upper")}},
			{Column: "issued", Field: "issued_at", Processors: []core.ProcessorSpec{core.Proc("toDatetime", DateFormat)}},
			{Column: "total", Processors: []core.ProcessorSpec{core.Proc("stringToNull")}},
		},
		Processors: importProcessors,
		Update:     updateInvoice,
	})

	core.RegisterExporter(core.ExporterDefinition{
		Name:  "invoices",
		Table: "invoices",
		File:  "invoices.csv",
		Mapping: core.ColumnMapping{
			{Column: "number"},
			{Column: "customer"},
			{Column: "issued", Field: "issued_at", Processors: []core.ProcessorSpec{core.Proc("fromDatetime", DateFormat)}},
			{Column: "total", Processors: []core.ProcessorSpec{core.Proc("nullToString")}},
		},
		Processors: exportProcessors,
		Query:      invoicesWithCustomerCode,
	})
}

// updateInvoice never moves an invoice to another customer.
func updateInvoice(_ context.Context, _ *core.RowContext, e core.Entity, fields core.Fields) (bool, error) {
	return core.AssignFields(e, fields, "issued_at", "total")
}

// invoicesWithCustomerCode loads invoices and sets "customer" to the code
// of the referenced customer, the inverse of the import reference.
func invoicesWithCustomerCode(ctx context.Context, tx core.Tx) ([]core.Entity, error) {
	return withCode(ctx, tx, "invoices", "customer_id", "customers", "code", "customer")
}

func registerInvoiceLines() {
	core.RegisterImporter(core.ImporterDefinition{
		Name:         "invoice_lines",
		Table:        "invoice_lines",
		File:         "invoice_lines.csv",
		CacheKey:     "line_ref",
		Dependencies: []string{"invoices", "products"},
		References: []core.Reference{
			{Field: "invoice", Entity: "invoices", Target: "invoice_id"},
			{Field: "sku", Entity: "products", Target: "product_id"},
		},
		Mapping: core.ColumnMapping{
			{Column: "line_ref", Processors: []core.ProcessorSpec{core.Proc("upper")}},
			{Column: "invoice", Processors: []core.ProcessorSpec{core.Proc("upper")}},
			{Column: "sku", Processors: []core.ProcessorSpec{core.Proc("upper")}},
			{Column: "quantity", Processors: []core.ProcessorSpec{core.Proc("integer")}},
		},
		Processors: importProcessors,
		Pivot:      splitSkus,
		Update:     core.UpdateAll,
	})
}

// splitSkus expands a line listing several products ("P1;P2") into one row
// per product and derives the line key from invoice and sku.
func splitSkus(raw map[string]string) ([]map[string]string, error) {
	skus := strings.Split(raw["sku"], ";")
	out := make([]map[string]string, 0, len(skus))
	for _, sku := range skus {
		sku = strings.TrimSpace(sku)
		if sku == "" {
			continue
		}
		row := make(map[string]string, len(raw)+1)
		for k, v := range raw {
			row[k] = v
		}
		row["sku"] = sku
		row["line_ref"] = strings.TrimSpace(raw["invoice"]) + ":" + sku
		out = append(out, row)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sku in line")
	}
	return out, nil
}

// withCode loads every entity of table and copies the key field of the
// entity referenced through fk into field.
func withCode(ctx context.Context, tx core.Tx, table, fk, refTable, key, field string) ([]core.Entity, error) {
	refRepo, err := tx.Repository(refTable)
	if err != nil {
		return nil, err
	}
	refs, err := refRepo.All(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]core.Entity, len(refs))
	for _, r := range refs {
		id, _ := r.Get("id")
		byID[core.KeyOf(id)] = r
	}

	repo, err := tx.Repository(table)
	if err != nil {
		return nil, err
	}
	entities, err := repo.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		var code any
		if id, ok := e.Get(fk); ok {
			if ref, ok := byID[core.KeyOf(id)]; ok {
				code, _ = ref.Get(key)
			}
		}
		if err := e.Set(field, code); err != nil {
			return nil, err
		}
	}
	return entities, nil
}
