// Package model defines the error taxonomy and the stable boundary types shared
// by the identity, ledger and membership packages.
//
// Hashed protocol objects (registration statements, ledger entries) live in
// their own packages; the structs here are report projections intended for
// direct JSON/YAML serialization by consumers and never feed a hash.
package model
