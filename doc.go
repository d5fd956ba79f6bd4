/*
Package itemdb implements a versioned item repository on top of a key-value
store (Bolt on disk, or an in-memory map).

Items form namespace trees: every item has a kind, a name unique among its
siblings, a parent (nil for a namespace root) and a set of attribute values.
Values are literals, references to other items, or reference collections
(sequences, sets and mappings). References with an other-name are
bidirectional; both sides are kept in sync on every edit.

# Views and versions

All reads and writes go through a View, which sees one committed version plus
its own uncommitted edits. Items are loaded lazily as they are touched.
Commit writes the edits as a new version. If other views committed in the
meantime, the edits are first merged onto the latest version; overlapping
edits raise conflicts that a resolver callback may settle, otherwise the
commit fails with a *MergeConflictError and the view is left untouched.

# Schema

Kinds are defined in a Registry before the repository is opened. A kind has
super-kinds (multiple inheritance), attributes keyed by alias, initial values
and an implementation type providing methods. Mixins combine several kinds
into a memoized tagged kind. The schema is persisted with the data, so a
registry without kinds picks up the kinds of earlier sessions.

# Indexes

Reference lists may carry sorted indexes over any attribute of the listed
items, with null placement, descending order, string collation and custom
comparators. Indexes are repositioned as the indexed attributes change, and
are persisted as snapshots alongside the list.

# Storage layout

Buckets:

	meta         format, version and value sequence
	schema       kind path -> msgpack kind definition
	items        item id + version -> item record
	values       value id -> value record
	collections  collection id + version -> ordered collection
	children     parent id + version -> child collection
	versions     version -> commit record
	extents      kind path, 0, item id -> membership history
	fulltext     value id -> item id, awaiting the background indexer
	lobs         lob id + chunk -> bytes of large values
	indexes      snapshot id -> index snapshot

Versioned keys end with the big-endian version, so the state of an object as
of version V is the last key not after V. Records are msgpack-encoded. Values
are immutable once written; an unchanged attribute keeps pointing at the
same value record in later versions.
*/
package itemdb
