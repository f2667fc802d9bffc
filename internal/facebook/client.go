// Package facebook publishes tagged posts to a page through the Graph API
// and reads back the page's recent history.
package facebook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"confessional/api/internal/httpx"
	"confessional/api/internal/logging"
	"confessional/api/internal/media"
	"confessional/api/internal/tag"
)

const (
	DefaultBaseURL  = "https://graph.facebook.com/v19.0"
	maxPageSize     = 100
	graphTimeLayout = "2006-01-02T15:04:05-0700"
)

// Post is a page post as served by the public feed.
type Post struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	CreatedTime time.Time `json:"createdTime"`
	Picture     string    `json:"picture,omitempty"`
	PublicID    *int      `json:"publicId,omitempty"`
}

type PublishRequest struct {
	Message string
	Images  []media.File
}

type Published struct {
	PostID string
	// Degraded is set when images were dropped and the post went out as
	// text only.
	Degraded      bool
	DegradeReason string
}

// GraphError is a non-2xx answer from the Graph API.
type GraphError struct {
	Status  int
	Message string
	Type    string
	Code    int
}

func (e *GraphError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph api status %d", e.Status)
	}
	return fmt.Sprintf("graph api status %d: %s (%s %d)", e.Status, e.Message, e.Type, e.Code)
}

type Client struct {
	baseURL    string
	pageID     string
	token      string
	tagPrefix  string
	httpClient httpx.Doer
	publish    *httpx.Executor
	read       *httpx.Executor
	logger     logging.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(client httpx.Doer) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithLogger(logger logging.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func WithTagPrefix(prefix string) ClientOption {
	return func(c *Client) { c.tagPrefix = prefix }
}

// WithPolicies overrides the read (retry + breaker) and publish (breaker
// only) execution policies.
func WithPolicies(read, publish httpx.Config) ClientOption {
	return func(c *Client) {
		publish.MaxRetries = 0
		c.read = httpx.New(read)
		c.publish = httpx.New(publish)
	}
}

func NewClient(pageID, accessToken string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		pageID:     pageID,
		token:      accessToken,
		tagPrefix:  tag.DefaultPrefix,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.read == nil {
		cfg := httpx.DefaultConfig("facebook-read")
		cfg.Logger = c.logger
		c.read = httpx.New(cfg)
	}
	if c.publish == nil {
		cfg := httpx.DefaultConfig("facebook-publish")
		cfg.MaxRetries = 0
		cfg.Logger = c.logger
		c.publish = httpx.New(cfg)
	}
	return c
}

// Publish posts the message with its images. Image problems never fail the
// call: the post falls back to text only and is marked Degraded. Only a
// failed text post is an error. Nothing is retried.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (Published, error) {
	images := make([]media.File, 0, len(req.Images))
	for _, img := range req.Images {
		if img.HasData() || strings.TrimSpace(img.URL) != "" {
			images = append(images, img)
		}
	}

	switch len(images) {
	case 0:
	case 1:
		postID, err := c.postPhoto(ctx, images[0], req.Message, true)
		if err == nil {
			return Published{PostID: postID}, nil
		}
		return c.fallbackToText(ctx, req.Message, err)
	default:
		mediaIDs := make([]string, 0, len(images))
		for _, img := range images {
			photoID, err := c.postPhoto(ctx, img, "", false)
			if err != nil {
				return c.fallbackToText(ctx, req.Message, err)
			}
			mediaIDs = append(mediaIDs, photoID)
		}
		postID, err := c.postFeed(ctx, req.Message, mediaIDs)
		if err == nil {
			return Published{PostID: postID}, nil
		}
		return c.fallbackToText(ctx, req.Message, err)
	}

	postID, err := c.postFeed(ctx, req.Message, nil)
	if err != nil {
		return Published{}, err
	}
	return Published{PostID: postID}, nil
}

func (c *Client) fallbackToText(ctx context.Context, message string, cause error) (Published, error) {
	c.logger.WithError(cause).Warn("photo post failed, publishing text only")
	postID, err := c.postFeed(ctx, message, nil)
	if err != nil {
		return Published{}, err
	}
	return Published{PostID: postID, Degraded: true, DegradeReason: cause.Error()}, nil
}

func (c *Client) postFeed(ctx context.Context, message string, mediaIDs []string) (string, error) {
	form := url.Values{}
	form.Set("message", message)
	form.Set("access_token", c.token)
	for i, id := range mediaIDs {
		form.Set("attached_media["+strconv.Itoa(i)+"]", `{"media_fbid":"`+id+`"}`)
	}
	endpoint := c.baseURL + "/" + url.PathEscape(c.pageID) + "/feed"

	var out struct {
		ID string `json:"id"`
	}
	err := c.doJSON(ctx, c.publish, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, &out)
	if err != nil {
		return "", fmt.Errorf("post to feed: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("post to feed: empty post id")
	}
	return out.ID, nil
}

// postPhoto uploads one photo. Published photos carry the caption and
// return the resulting post id; unpublished ones return the photo id for
// use in attached_media.
func (c *Client) postPhoto(ctx context.Context, img media.File, caption string, published bool) (string, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(c.pageID) + "/photos"
	fields := map[string]string{
		"access_token": c.token,
		"published":    strconv.FormatBool(published),
	}
	if caption != "" {
		fields["message"] = caption
	}

	newRequest := func(ctx context.Context) (*http.Request, error) {
		if !img.HasData() {
			form := url.Values{}
			for k, v := range fields {
				form.Set(k, v)
			}
			form.Set("url", img.URL)
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			return req, nil
		}

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		for k, v := range fields {
			if err := writer.WriteField(k, v); err != nil {
				return nil, err
			}
		}
		name := img.Name
		if name == "" {
			name = "image" + img.Extension()
		}
		part, err := writer.CreateFormFile("source", name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	}

	var out struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := c.doJSON(ctx, c.publish, newRequest, &out); err != nil {
		return "", fmt.Errorf("post photo: %w", err)
	}
	if published && out.PostID != "" {
		return out.PostID, nil
	}
	if out.ID == "" {
		return "", fmt.Errorf("post photo: empty id")
	}
	return out.ID, nil
}

type postsPage struct {
	Data []struct {
		ID          string `json:"id"`
		Message     string `json:"message"`
		CreatedTime string `json:"created_time"`
		FullPicture string `json:"full_picture"`
	} `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// RecentPosts returns up to limit posts, newest first, following Graph
// paging cursors as needed.
func (c *Client) RecentPosts(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 {
		return []Post{}, nil
	}
	query := url.Values{}
	query.Set("fields", "id,message,created_time,full_picture")
	query.Set("limit", strconv.Itoa(min(limit, maxPageSize)))
	query.Set("access_token", c.token)
	next := c.baseURL + "/" + url.PathEscape(c.pageID) + "/posts?" + query.Encode()

	posts := make([]Post, 0, limit)
	for next != "" && len(posts) < limit {
		pageURL := next
		var page postsPage
		err := c.doJSON(ctx, c.read, func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		}, &page)
		if err != nil {
			return nil, fmt.Errorf("list page posts: %w", err)
		}
		for _, item := range page.Data {
			if len(posts) == limit {
				break
			}
			post := Post{ID: item.ID, Message: item.Message, Picture: item.FullPicture}
			if created, err := time.Parse(graphTimeLayout, item.CreatedTime); err == nil {
				post.CreatedTime = created.UTC()
			}
			if id, ok := tag.Parse(c.tagPrefix, item.Message); ok {
				post.PublicID = &id
			}
			posts = append(posts, post)
		}
		if len(page.Data) == 0 {
			break
		}
		next = page.Paging.Next
	}
	return posts, nil
}

// RecentPublicIDs returns the tags found in the last limit posts, newest
// first. Untagged posts are skipped.
func (c *Client) RecentPublicIDs(ctx context.Context, limit int) ([]int, error) {
	posts, err := c.RecentPosts(ctx, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(posts))
	for _, post := range posts {
		if post.PublicID != nil {
			ids = append(ids, *post.PublicID)
		}
	}
	return ids, nil
}

func (c *Client) doJSON(ctx context.Context, exec *httpx.Executor, newRequest func(ctx context.Context) (*http.Request, error), out any) error {
	resp, err := exec.Do(ctx, c.httpClient, newRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		graphErr := &GraphError{Status: resp.StatusCode}
		var envelope struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil {
			graphErr.Message = envelope.Error.Message
			graphErr.Type = envelope.Error.Type
			graphErr.Code = envelope.Error.Code
		}
		return graphErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
