/*
Package objstore is an embedded, versioned, transactional object store
modeled on IndexedDB, built on top of a key-value store (Bolt, or memory for
tests).

A Factory opens named databases at a version. Opening at a higher version
runs an upgrade transaction, the only place where object stores and indexes
can be created or deleted. Other connections get a version change callback
first and are expected to close; if they don't, the request is abandoned
with ErrBlocked.

Object stores hold records (map[string]any) keyed by one of their fields,
optionally with a key generator. Indexes map the value of a field to
records, optionally unique, optionally exploding array values into multiple
entries (multiEntry).

# Technical Details

**Catalog.**
The _meta bucket holds the catalog document: the database version, the
list of object stores and caller metadata.

**Store state.**
Each store's root bucket holds a state document with its key path, key
generator position and indexes. Every index gets an ordinal which is never
reused within the store.

**Key encoding.**
Keys are encoded so that byte order matches key order, and every encoded
key is self-delimiting. Numbers are big-endian float64 with the sign bit
flipped (all bits for negatives). Dates are milliseconds since the epoch,
encoded like numbers. Strings and binary escape 0x00 as 0x00 0xFF and end
with 0x00 0x01. Arrays end with 0x00.

**Value**: value header, then msgpack of the record, then the index key
records, which list the index entries contributed by this record so that
they can be removed on overwrite and delete.

**Index entries.**
Unique indexes map the index key to the primary key. Non-unique indexes
use the index key followed by the primary key as the entry key, with an
empty value.
*/
package objstore
