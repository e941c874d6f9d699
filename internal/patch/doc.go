// Package patch applies ordered batches of JSON-patch operations to nested
// state documents.
//
// # Semantics
//
// Apply evaluates operations strictly in order, each consuming the document
// produced by the previous one:
//
//   - add: inserts at path; the parent must resolve to a container
//   - remove: deletes the value at path; fails if absent
//   - replace: overwrites the value at path; fails if absent
//   - move: remove at from, then add at path
//   - copy: add at path with the value read from from
//   - test: fails the batch if the value at path differs structurally
//
// A batch is all-or-nothing: the first failing operation aborts the whole
// apply with an *ApplyError and the caller's document is left observably
// unchanged. Touched spines are rebuilt copy-on-write; untouched branches
// are shared by reference with the input, so holders of the original keep
// the pre-patch view.
//
// Move and copy operations whose from and path overlap (either a prefix of
// the other) are rejected with ErrOverlappingPaths rather than given
// surprising semantics.
package patch
