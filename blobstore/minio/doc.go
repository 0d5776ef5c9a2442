// Package minio implements blobstore.Store with the MinIO client, for MinIO
// and other S3-compatible servers (Ceph, Garage, SeaweedFS).
//
//	store, err := minio.Connect(ctx, minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "synapsd",
//	    Prefix:    "backups/",
//	})
package minio
