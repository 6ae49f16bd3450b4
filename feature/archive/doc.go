// Package archive ingests uploaded mod, savegame and map archives.
//
// An archive is validated against size and path-safety bounds, must hold
// exactly one recognized descriptor, and is content-addressed by a hash
// that ignores entry order and compression. The payload is staged in the
// blob store before the descriptor is parsed so the reconciler can
// promote it atomically with the catalog row.
package archive
