// Package drive downloads full-quality images referenced by Google Drive
// links in form responses.
package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"confessional/api/internal/logging"
	"confessional/api/internal/media"
)

const maxDownloadBytes = 25 << 20

var filePathPattern = regexp.MustCompile(`/file/d/([A-Za-z0-9_-]+)`)

// ExtractFileID pulls the Drive file id out of the link shapes Google Forms
// and Drive produce: /file/d/<id>/view, open?id=<id>, uc?id=<id>,
// thumbnail?id=<id>.
func ExtractFileID(link string) (string, bool) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", false
	}
	if match := filePathPattern.FindStringSubmatch(link); match != nil {
		return match[1], true
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	if !strings.Contains(parsed.Host, "google.com") {
		return "", false
	}
	if id := parsed.Query().Get("id"); id != "" {
		return id, true
	}
	return "", false
}

// ThumbnailURL is the preview URL shown to moderators. Links that are not
// Drive links come back unchanged.
func ThumbnailURL(link string) string {
	id, ok := ExtractFileID(link)
	if !ok {
		return strings.TrimSpace(link)
	}
	return "https://drive.google.com/thumbnail?id=" + url.QueryEscape(id) + "&sz=w1000"
}

// SplitLinks splits a form upload cell, which lists one link per file
// separated by commas.
func SplitLinks(cell string) []string {
	parts := strings.Split(cell, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// fileService is the slice of the Drive API used here.
type fileService interface {
	Metadata(ctx context.Context, id string) (name, mimeType string, err error)
	Download(ctx context.Context, id string) (*http.Response, error)
}

type apiFiles struct {
	files *gdrive.FilesService
}

func (a apiFiles) Metadata(ctx context.Context, id string) (string, string, error) {
	f, err := a.files.Get(id).Fields("name", "mimeType").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", "", err
	}
	return f.Name, f.MimeType, nil
}

func (a apiFiles) Download(ctx context.Context, id string) (*http.Response, error) {
	return a.files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
}

type Acquirer struct {
	files       fileService
	concurrency int
	logger      logging.Logger
}

// New builds an acquirer from a service account credentials file.
func New(ctx context.Context, credentialsPath string, logger logging.Logger, opts ...option.ClientOption) (*Acquirer, error) {
	opts = append([]option.ClientOption{
		option.WithCredentialsFile(credentialsPath),
		option.WithScopes(gdrive.DriveReadonlyScope),
	}, opts...)
	svc, err := gdrive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return newAcquirer(apiFiles{files: svc.Files}, logger), nil
}

func newAcquirer(files fileService, logger logging.Logger) *Acquirer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Acquirer{files: files, concurrency: 4, logger: logger}
}

// FetchMany downloads every Drive link concurrently. The result keeps input
// order and omits links that could not be fetched; an error is returned
// only when nothing could be fetched at all.
func (a *Acquirer) FetchMany(ctx context.Context, links []string) ([]media.File, error) {
	if len(links) == 0 {
		return []media.File{}, nil
	}

	results := make([]*media.File, len(links))
	failures := make([]error, len(links))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.concurrency)
	for i, link := range links {
		group.Go(func() error {
			id, ok := ExtractFileID(link)
			if !ok {
				failures[i] = fmt.Errorf("no drive file id in %q", link)
				return nil
			}
			file, err := a.fetch(groupCtx, id)
			if err != nil {
				failures[i] = err
				a.logger.WithError(err).WithField("file_id", id).Warn("drive download failed")
				return nil
			}
			results[i] = &file
			return nil
		})
	}
	_ = group.Wait()

	files := make([]media.File, 0, len(links))
	var firstErr error
	for i, res := range results {
		if res != nil {
			files = append(files, *res)
		} else if firstErr == nil {
			firstErr = failures[i]
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("fetch drive images: %w", firstErr)
	}
	return files, nil
}

func (a *Acquirer) fetch(ctx context.Context, id string) (media.File, error) {
	name, mimeType, err := a.files.Metadata(ctx, id)
	if err != nil {
		return media.File{}, fmt.Errorf("drive metadata %s: %w", id, err)
	}
	resp, err := a.files.Download(ctx, id)
	if err != nil {
		return media.File{}, fmt.Errorf("drive download %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return media.File{}, fmt.Errorf("drive download %s: status %d", id, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return media.File{}, fmt.Errorf("drive read %s: %w", id, err)
	}
	if len(data) > maxDownloadBytes {
		return media.File{}, fmt.Errorf("drive file %s exceeds %d bytes", id, maxDownloadBytes)
	}
	return media.Sniff(media.File{Name: name, MimeType: mimeType, Data: data}), nil
}
