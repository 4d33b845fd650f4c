package tables

import "github.com/JonMunkholm/csvsync/internal/core"

func init() {
	registerCustomers()
	registerProducts()
}

// DateFormat is the date() style format of date columns in the bundled files.
const DateFormat = "d/m/Y"

func registerCustomers() {
	core.RegisterImporter(core.ImporterDefinition{
		Name:     "customers",
		Table:    "customers",
		File:     "customers.csv",
		CacheKey: "code",
		Mapping: core.ColumnMapping{
			{Column: "code", Processors: []core.ProcessorSpec{core.Proc("upper")}},
			{Column: "name"},
			{Column: "email", Validators: []string{"unique"}},
			{Column: "state", Processors: []core.ProcessorSpec{core.Proc("usState")}},
			{Column: "created", Field: "created_at", Processors: []core.ProcessorSpec{core.Proc("toDatetime", DateFormat)}},
		},
		Processors: importProcessors,
		Update:     core.UpdateAll,
	})

	core.RegisterExporter(core.ExporterDefinition{
		Name:  "customers",
		Table: "customers",
		File:  "customers.csv",
		Mapping: core.ColumnMapping{
			{Column: "code"},
			{Column: "name"},
			{Column: "email"},
			{Column: "state"},
			{Column: "created", Field: "created_at", Processors: []core.ProcessorSpec{core.Proc("fromDatetime", DateFormat)}},
		},
		Processors: exportProcessors,
	})
}

func registerProducts() {
	core.RegisterImporter(core.ImporterDefinition{
		Name:     "products",
		Table:    "products",
		File:     "products.csv",
		CacheKey: "sku",
		Mapping: core.ColumnMapping{
			{Column: "sku", Processors: []core.ProcessorSpec{core.Proc("upper")}},
			{Column: "name"},
			{Column: "price", Processors: []core.ProcessorSpec{core.Proc("stringToNull")}},
			{Column: "active", Processors: []core.ProcessorSpec{core.Proc("integer")}},
		},
		Processors: importProcessors,
		Update:     core.UpdateAll,
	})

	core.RegisterExporter(core.ExporterDefinition{
		Name:  "products",
		Table: "products",
		File:  "products.csv",
		Mapping: core.ColumnMapping{
			{Column: "sku"},
			{Column: "name"},
			{Column: "price", Processors: []core.ProcessorSpec{core.Proc("nullToString")}},
			{Column: "active", Processors: []core.ProcessorSpec{core.Proc("nullToZero")}},
		},
		SQL: "SELECT * FROM products ORDER BY sku",
	})
}
