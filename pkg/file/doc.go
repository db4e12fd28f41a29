// Package file removes stored files on behalf of cleanup jobs.
//
// Two Remover implementations are provided:
//
//   - S3Remover deletes uploaded objects from Amazon S3 or an S3-compatible
//     service by public id, prefixed with S3Config.KeyPrefix.
//   - LocalRemover deletes files confined to a root directory, such as
//     temporary upload files left behind by a failed request.
//
// Removal is idempotent: a missing object or file is reported as success so a
// retried job converges instead of failing forever.
//
// # Usage
//
//	var cfg file.S3Config
//	config.MustLoad(&cfg)
//
//	images, err := file.NewS3Remover(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	err = images.Remove(ctx, "avatars/u42.png")
//
//	tmp, err := file.NewLocalRemover(os.TempDir())
//	if err != nil {
//		return err
//	}
//	err = tmp.Remove(ctx, "/tmp/upload-123")
//
// # Errors
//
// Paths escaping the root or keys containing ".." return ErrInvalidPath.
// S3 failures are classified into ErrAccessDenied, ErrBucketNotFound,
// ErrRequestTimeout, ErrServiceUnavailable, ErrOperationTimeout and
// ErrOperationCanceled.
package file
