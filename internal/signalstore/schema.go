package signalstore

import _ "embed"

// schemaSQL is embedded into the binary rather than read from a
// relative path, so InitSchema works regardless of the process's
// working directory.
//
//go:embed schema.sql
var schemaSQL string
