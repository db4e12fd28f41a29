package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/backq/pkg/file"
	"github.com/dmitrymomot/backq/pkg/queue"
)

func (s *Service) deleteUploadedImage(ctx context.Context, p DeleteUploadedImagePayload) error {
	if p.PublicID == "" {
		return queue.Permanent(fmt.Errorf("%w: public id is required", ErrInvalidPayload))
	}
	if err := s.images.Remove(ctx, p.PublicID); err != nil {
		return classifyRemoveError(err)
	}
	s.logger.DebugContext(ctx, "uploaded image deleted", slog.String("public_id", p.PublicID))
	return nil
}

func (s *Service) deleteLocalFile(ctx context.Context, p DeleteLocalFilePayload) error {
	if p.Path == "" {
		return queue.Permanent(fmt.Errorf("%w: path is required", ErrInvalidPayload))
	}
	if err := s.files.Remove(ctx, p.Path); err != nil {
		return classifyRemoveError(err)
	}
	return nil
}

// classifyRemoveError fails immediately for requests no retry can fix.
func classifyRemoveError(err error) error {
	switch {
	case errors.Is(err, file.ErrInvalidPath),
		errors.Is(err, file.ErrIsDirectory),
		errors.Is(err, file.ErrAccessDenied),
		errors.Is(err, file.ErrBucketNotFound):
		return queue.Permanent(err)
	}
	return err
}
