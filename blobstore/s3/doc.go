// Package s3 implements blobstore.Store on Amazon S3.
//
//	store, err := s3.Connect(ctx, "my-bucket", "synapsd/")
//	db, err := synapsd.Open(ctx, dir, synapsd.WithBackupStore(store))
//
// Small blobs are sent with a single PutObject carrying a CRC32C checksum;
// Create streams through the SDK's multipart uploader.
package s3
