/*
Package staging implements the temporary object store behind the upload,
pull and convert endpoints.

Every entry is a random key mapped to an expiry time and a backing file at
<root>/file_<key>. The mapping is kept in memory and persisted to an index
inside the root after each mutation, so a restart that does not purge the
root rebuilds the same set of resolvable keys.

# Index backends

Two Index implementations are provided:

  - JSONIndex writes index.json through a temporary file and an atomic rename
  - SQLiteIndex keeps an entries table in index.db (WAL, full sync)

# Expiry

Resolve treats an expired entry as missing even before it is swept. A
background sweeper started with Start evicts expired entries on a fixed
interval: the index is persisted first, then backing files are removed by a
bounded worker pool. A deletion failure is logged and counted and never
stops the pass.

# Exclusivity

Open takes an advisory lock on <root>.lock; a second process pointed at the
same root gets ErrLocked.
*/
package staging
