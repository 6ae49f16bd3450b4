// Package storage provides an abstraction layer for object storage services.
//
// It wraps the MinIO Go client behind a Client interface covering the
// operations the ingestion pipeline needs: put, get, stat, server-side copy
// (staged payload promotion), list and remove. The abstraction supports both
// AWS S3 and self-hosted MinIO instances and makes storage interactions easy
// to mock for unit testing (see core/storage/mocks).
//
// # Usage
//
//	client, err := storage.NewClient(cfg.Storage)
//	exists, err := client.BucketExists(ctx, cfg.Storage.Bucket)
package storage
