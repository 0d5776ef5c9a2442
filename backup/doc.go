// Package backup writes and reads point-in-time archives of kv datasets.
//
// An archive is the magic "SYNAPSD1" followed by a zstd stream of
// CRC32C-framed msgpack records, one per key. Manager stores archives in a
// blobstore.Store and records the latest complete one in a Catalog: a
// pointer object next to the archives (BlobCatalog) or a versioned item in
// DynamoDB (DynamoCatalog) when several processes share a bucket.
package backup
