// Package blobstore stores named blobs for backups.
//
// Store is implemented by:
//
//   - LocalStore: files below a directory, written via temp file + rename
//   - MemoryStore: in-process map, for tests
//   - s3.Store: Amazon S3 with multipart uploads
//   - minio.Store: MinIO and other S3-compatible servers
//
// All implementations are safe for concurrent use.
package blobstore
