package moderation

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"confessional/api/internal/media"
	"confessional/api/internal/store"
	"confessional/api/internal/util"
)

const MaxContentLength = 10000

// SubmitResult is the result of a website submission.
type SubmitResult struct {
	Item         PendingItem          `json:"item"`
	Degradations []PartialDegradation `json:"degradations,omitempty"`
}

// Submit stores a new website confession as pending. Images are validated
// then uploaded to the image host; an upload failure keeps the text.
func (e *Engine) Submit(ctx context.Context, content string, files []media.File) (SubmitResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return SubmitResult{}, &ValidationError{Field: "content", Message: "content is required"}
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return SubmitResult{}, &ValidationError{Field: "content", Message: "content is too long"}
	}
	files, err := media.ValidateUploads(files)
	if err != nil {
		return SubmitResult{}, &ValidationError{Field: "images", Message: err.Error()}
	}

	var (
		urls         []string
		degradations []PartialDegradation
	)
	if len(files) > 0 {
		if e.imageHost == nil {
			degradations = append(degradations, degrade(DegradeImagesUnavailable, errors.New("image host is not configured")))
		} else if urls, err = e.imageHost.UploadMany(ctx, files); err != nil {
			e.logger.WithError(err).Warn("image upload failed, storing text only")
			degradations = append(degradations, degrade(DegradeImagesUnavailable, err))
			urls = nil
		}
	}
	if urls == nil {
		urls = []string{}
	}

	sub, err := e.documents.InsertSubmission(ctx, store.Submission{
		ID:          util.NewID("sub"),
		Content:     content,
		Images:      urls,
		Source:      store.SourceDocument,
		Status:      store.StatusPending,
		SubmittedAt: e.now().UTC(),
	})
	if err != nil {
		return SubmitResult{}, &CollaboratorError{Collaborator: "document store", Op: "insert", Err: err}
	}
	for _, d := range degradations {
		e.metrics.Degradation(d.Kind)
	}
	e.logger.WithField("item_id", sub.ID).WithField("images", len(urls)).Info("submission received")
	return SubmitResult{Item: documentItem(sub), Degradations: degradations}, nil
}
