// Package core moves data between CSV files and a database.
//
// It has no transport dependencies: the CLI and the HTTP API both drive it
// through [Service].
//
// # Definitions
//
// An [ImporterDefinition] maps CSV columns to entity fields, optionally
// through processors ("integer", "toDatetime", "stringToNull") and
// validators ("unique"). Definitions are registered at init time:
//
//	core.RegisterImporter(core.ImporterDefinition{
//	    Name:     "customers",
//	    Table:    "customers",
//	    File:     "customers.csv",
//	    CacheKey: "code",
//	    Mapping: core.ColumnMapping{
//	        {Column: "code", Validators: []string{"unique"}},
//	        {Column: "created", Processors: []core.ProcessorSpec{core.Proc("toDatetime", "d/m/Y")}},
//	    },
//	})
//
// An [ExporterDefinition] is the reverse mapping, with export processors
// ("nullToString", "nullToZero").
//
// # Import runs
//
// [Service.Import] expands the requested names with their dependencies,
// orders them with [SortDependencies] and imports each one inside a single
// transaction. Per definition the existing rows are indexed by the cache
// key ([EntityCache]) so re-imports update or skip instead of duplicating,
// and every imported entity is recorded in the run's [EntityContext] so
// later definitions can resolve foreign keys by business key.
//
// Modes: append creates what the cache does not know, overwrite clears the
// table first, update applies changes to known entities, and validate runs
// everything then rolls back.
//
// # Errors
//
// Failures are [*ConfigError], [*DataError], [*IntegrityError] or
// [*CycleError] and abort the run. [MapError] turns any error into a
// message with a support code.
package core
