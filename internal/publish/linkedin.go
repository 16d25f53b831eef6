package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/abelbrown/linkpost/internal/compose"
	"github.com/abelbrown/linkpost/internal/httpclient"
	"github.com/abelbrown/linkpost/internal/logging"
)

const (
	defaultAPIBase  = "https://api.linkedin.com"
	uploadMechanism = "com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"
	maxImageBytes   = 10 << 20
)

// LinkedInOptions configures NewLinkedIn.
type LinkedInOptions struct {
	PersonURN   string
	AccessToken string
	APIBase     string
	// Images downloads the article image; it carries the browser identity.
	Images *httpclient.Client
	Client *http.Client
}

// LinkedIn posts to a member feed through the UGC API. An image is
// registered and uploaded first; any failure there degrades to a
// text-only post.
type LinkedIn struct {
	urn     string
	token   string
	apiBase string
	images  *httpclient.Client
	client  *http.Client
}

// NewLinkedIn creates a LinkedIn sink.
func NewLinkedIn(opts LinkedInOptions) *LinkedIn {
	if opts.APIBase == "" {
		opts.APIBase = defaultAPIBase
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Images == nil {
		opts.Images = httpclient.New(httpclient.Options{Timeout: 30 * time.Second})
	}
	return &LinkedIn{
		urn:     opts.PersonURN,
		token:   opts.AccessToken,
		apiBase: strings.TrimRight(opts.APIBase, "/"),
		images:  opts.Images,
		client:  opts.Client,
	}
}

// Publish posts post.Text, with the image when the upload handshake works.
// Only HTTP 201 counts as success.
func (l *LinkedIn) Publish(ctx context.Context, post compose.Post) (Receipt, error) {
	log := logging.WithPrefix("linkedin")

	asset := ""
	if post.ImageURL != "" {
		a, err := l.uploadImage(ctx, post.ImageURL)
		if err != nil {
			log.Warn("image upload failed, posting text only", "image", post.ImageURL, "error", err)
		} else {
			asset = a
		}
	}

	share := map[string]interface{}{
		"shareCommentary":    map[string]string{"text": post.Text},
		"shareMediaCategory": "NONE",
		"media":              []interface{}{},
	}
	if asset != "" {
		share["shareMediaCategory"] = "IMAGE"
		share["media"] = []map[string]string{{"status": "READY", "media": asset}}
	}
	body := map[string]interface{}{
		"author":          l.urn,
		"lifecycleState":  "PUBLISHED",
		"specificContent": map[string]interface{}{"com.linkedin.ugc.ShareContent": share},
		"visibility":      map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}

	status, respBody, header, err := l.postJSON(ctx, l.apiBase+"/v2/ugcPosts", body)
	if err != nil {
		return Receipt{}, fmt.Errorf("creating post: %w", err)
	}
	if status != http.StatusCreated {
		return Receipt{}, fmt.Errorf("%w: status %d: %s", ErrRejected, status, strings.TrimSpace(string(respBody)))
	}

	id := header.Get("X-RestLi-Id")
	if id == "" {
		var created struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(respBody, &created) == nil {
			id = created.ID
		}
	}
	log.Info("posted", "id", id, "image", asset != "")
	return Receipt{Sink: "linkedin", ID: id, WithImage: asset != ""}, nil
}

// uploadImage registers an upload, downloads the image and PUTs it to the
// upload URL. It returns the asset URN.
func (l *LinkedIn) uploadImage(ctx context.Context, imageURL string) (string, error) {
	reg := map[string]interface{}{
		"registerUploadRequest": map[string]interface{}{
			"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			"owner":   l.urn,
			"serviceRelationships": []map[string]string{
				{"relationshipType": "OWNER", "identifier": "urn:li:userGeneratedContent"},
			},
		},
	}
	status, respBody, _, err := l.postJSON(ctx, l.apiBase+"/v2/assets?action=registerUpload", reg)
	if err != nil {
		return "", fmt.Errorf("register upload: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("register upload: status %d: %s", status, strings.TrimSpace(string(respBody)))
	}

	var registered struct {
		Value struct {
			Asset           string `json:"asset"`
			UploadMechanism map[string]struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"uploadMechanism"`
		} `json:"value"`
	}
	if err := json.Unmarshal(respBody, &registered); err != nil {
		return "", fmt.Errorf("register upload: parse: %w", err)
	}
	uploadURL := registered.Value.UploadMechanism[uploadMechanism].UploadURL
	if uploadURL == "" || registered.Value.Asset == "" {
		return "", fmt.Errorf("register upload: missing upload url or asset")
	}

	data, contentType, err := l.images.GetBytes(ctx, imageURL, maxImageBytes)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("download image: empty body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upload image: status %d", resp.StatusCode)
	}
	return registered.Value.Asset, nil
}

func (l *LinkedIn) postJSON(ctx context.Context, url string, body interface{}) (int, []byte, http.Header, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, resp.Header, nil
}
