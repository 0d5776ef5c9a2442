// Package hash provides the CRC32-Castagnoli checksums that frame backup
// archive records and S3 upload integrity headers.
package hash
