package chat

import (
	"context"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Attachment is a file the user attached to a message, before upload.
type Attachment struct {
	Filename  string
	MediaType string
	Data      []byte
}

// UploadedFile is where an attachment ended up.
type UploadedFile struct {
	URL       string
	MediaType string
	Filename  string
}

// Uploader stores attachments somewhere the assistant can fetch them from.
type Uploader interface {
	Upload(ctx context.Context, attachment Attachment) (UploadedFile, error)
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, attachment Attachment) (UploadedFile, error)

func (f UploaderFunc) Upload(ctx context.Context, attachment Attachment) (UploadedFile, error) {
	return f(ctx, attachment)
}

// upload runs all uploads concurrently and returns one file part per
// attachment, in attachment order. The first failure cancels the others.
func (s *Session) upload(ctx context.Context, attachments []Attachment) ([]conversation.Part, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	if s.uploader == nil {
		return nil, ErrNoUploader
	}

	parts := make([]conversation.Part, len(attachments))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, a := range attachments {
		i, a := i, a
		eg.Go(func() error {
			f, err := s.uploader.Upload(egCtx, a)
			if err != nil {
				return errors.Wrapf(err, "could not upload %s", a.Filename)
			}
			if f.MediaType == "" {
				f.MediaType = a.MediaType
			}
			if f.Filename == "" {
				f.Filename = a.Filename
			}
			p, err := conversation.NewFilePart(f.MediaType, f.Filename, f.URL)
			if err != nil {
				return err
			}
			parts[i] = p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}
