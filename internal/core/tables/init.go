// Package tables registers the built-in importer and exporter definitions
// with the core registry. Import it for its side effects.
//
// The definitions describe a small billing schema: customers and products,
// invoices that reference customers, and invoice lines that reference both
// invoices and products.
package tables
