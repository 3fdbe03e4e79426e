// Package secrets finds credentials in document text and replaces them
// before the text is chunked, embedded and shown to a language model.
//
// Detection is rule based: each Rule is a regular expression, optionally
// gated on keywords appearing somewhere in the document. Findings never
// carry the matched value.
package secrets
