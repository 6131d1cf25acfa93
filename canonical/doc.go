// Package canonical implements the deterministic JSON byte form that every
// signature and hash in the module is computed over.
//
// Marshal and Transform are the mandatory canonicalization choke points.
// Independent implementations (the CLI tools and the browser client) must
// produce byte-identical output for the same logical value, otherwise
// signatures made on one side fail to verify on the other.
//
// Rules:
//   - object keys are sorted by raw UTF-8 byte value at every nesting level
//   - no insignificant whitespace; "," between elements, ":" after keys
//   - text is emitted as raw UTF-8; only '"', '\\' and control characters
//     below U+0020 are escaped
//   - integers are emitted in plain decimal; other numbers use the
//     ECMAScript Number::toString form
//
// Conformance vectors live under testdata/conformance/canonical: each
// <name>.json input has a <name>.canon file holding the exact expected bytes.
// internal/tools/canonical_vector_gen regenerates or checks them.
package canonical
