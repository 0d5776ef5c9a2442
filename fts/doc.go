// Package fts implements the full-text index of document fields.
//
// Index is an in-memory inverted index. Text is lower-cased and split on
// non-alphanumeric runes. In the default forward mode every prefix of a
// token, down to MinPrefix runes, is indexed too, so "jour" finds
// "journal". Matches are ranked with BM25.
//
// FTS persists the whole index as one snapshot in a kv.Dataset.
package fts
