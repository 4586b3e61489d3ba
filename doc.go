/*
Package tabledb is a declarative schema layer and query pipeline over a
versioned, transactional object store (see package objstore).

A schema (package schema) declares a database name, a version and a list of
tables. Each table has a primary key, optional secondary indexes, optional
timestamps and optional seed rows. Schemas come from Go literals, from
annotations recorded in a schema.Registry (or struct tags), or from raw
documents such as JSON.

# Connections and migrations

Database opens its connection lazily, on the first operation, and keeps it
for its lifetime. Opening with a version higher than the stored one runs a
single upgrade transaction which, for every declared table:

1. Drops the existing object store, if any, when upgrading from a previous
non-zero version. Existing data of declared tables does not survive a
version bump; only the seed rows do.

2. Creates the object store, keyed by the primary key field, with
auto-increment when the primary key asks for it.

3. Creates every declared index with its unique and multiEntry flags.

4. Adds the seed rows, stamped with timestamps when the table wants them.

An upgrade also happens without a version bump when a declared table has
no object store yet. Object stores not mentioned in the schema are left
alone.

# Queries

Model exposes single-table operations: Insert, SelectByPrimaryKey,
SelectByIndex, SelectAll, Select, UpdateByPrimaryKey, DeleteByPrimaryKey,
Each and Count. Each operation runs in its own transaction.

Select always starts from the full record set and applies, in order, a
Where stage (Match, Filter or Predicate), a sort (see package sorter) and
a limit. Missing stages are skipped.

Timestamped tables get createdAt and updatedAt fields holding Unix
milliseconds.
*/
package tabledb
