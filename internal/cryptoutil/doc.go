// Package cryptoutil holds the small hashing helpers used to verify mirrored
// assets against the checksums S3 reports for them.
package cryptoutil
