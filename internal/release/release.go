package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/ghwns9652/bedrock-keeper/internal/logger"
)

const (
	// UserAgent is sent on every request to the distribution endpoints,
	// which reject obviously non-browser clients.
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"

	// maxLinkBodySize bounds the fallback mirror response, which should only
	// ever contain a single URL.
	maxLinkBodySize = 64 << 10
)

var (
	// ErrLinkNotFound is returned when the API response has no link for the platform.
	ErrLinkNotFound = errors.New("download link not found for platform")

	errBadHTTPStatus = errors.New("unexpected http status")
	errEmptyLink     = errors.New("mirror returned an empty download link")

	// versionPattern extracts the build version from a distribution link,
	// e.g. ".../bin-linux/bedrock-server-1.21.44.01.zip".
	versionPattern = regexp.MustCompile(`bedrock-server-(\d+(?:\.\d+)+)`)
)

// Release describes the latest available server build.
type Release struct {
	// Version is the build version parsed from the download link,
	// or "unknown" when the link does not carry one.
	Version string
	// DownloadURL is the direct link to the server archive.
	DownloadURL string
}

// Resolver finds the latest available server build for one platform.
type Resolver struct {
	client       *http.Client
	linksURL     string
	fallbackURL  string
	downloadType string
}

// NewResolver creates a resolver for the provided endpoints and platform
// download type. A nil client falls back to http.DefaultClient.
func NewResolver(client *http.Client, linksURL, fallbackURL, downloadType string) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}

	return &Resolver{
		client:       client,
		linksURL:     linksURL,
		fallbackURL:  fallbackURL,
		downloadType: downloadType,
	}
}

// linksResponse mirrors the download-links API payload.
type linksResponse struct {
	Result struct {
		Links []struct {
			DownloadType string `json:"downloadType"`
			DownloadURL  string `json:"downloadUrl"`
		} `json:"links"`
	} `json:"result"`
}

// Latest resolves the newest available build. The primary links API is tried
// first; on any failure exactly one attempt is made against the fallback
// mirror before the error is reported.
func (r *Resolver) Latest(ctx context.Context) (*Release, error) {
	link, err := r.fromLinksAPI(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Primary download link resolution failed, trying mirror",
			"error", err, "mirror", r.fallbackURL)

		var fallbackErr error

		link, fallbackErr = r.fromMirror(ctx)
		if fallbackErr != nil {
			return nil, fmt.Errorf("primary: %w; mirror: %w", err, fallbackErr)
		}
	}

	return &Release{
		Version:     ParseVersion(link),
		DownloadURL: link,
	}, nil
}

// fromLinksAPI queries the JSON API and picks the link for this platform.
func (r *Resolver) fromLinksAPI(ctx context.Context) (string, error) {
	body, err := r.get(ctx, r.linksURL)
	if err != nil {
		return "", err
	}

	var payload linksResponse
	if err = json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode links response: %w", err)
	}

	for _, link := range payload.Result.Links {
		if link.DownloadType == r.downloadType {
			return link.DownloadURL, nil
		}
	}

	return "", fmt.Errorf("%s: %w", r.downloadType, ErrLinkNotFound)
}

// fromMirror fetches the raw download link published on the fallback mirror.
func (r *Resolver) fromMirror(ctx context.Context) (string, error) {
	body, err := r.get(ctx, r.fallbackURL)
	if err != nil {
		return "", err
	}

	link := strings.TrimSpace(string(body))
	if link == "" {
		return "", errEmptyLink
	}

	return link, nil
}

// get performs a GET with the browser-like User-Agent and returns the body.
func (r *Resolver) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", UserAgent)

	response, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s, %s: %w", rawURL, response.Status, errBadHTTPStatus)
	}

	return io.ReadAll(io.LimitReader(response.Body, maxLinkBodySize))
}

// ParseVersion extracts the build version from a download link.
// It returns "unknown" when the link carries no recognizable version.
func ParseVersion(link string) string {
	match := versionPattern.FindStringSubmatch(link)
	if match == nil {
		return "unknown"
	}

	return match[1]
}

// IsNewer reports whether remote should replace local. Identical version
// strings never trigger an update; otherwise a missing or unparsable local
// version always does, and an unparsable remote falls back to plain string
// comparison.
func IsNewer(local, remote string) bool {
	if local == remote {
		return false
	}

	if local == "" || local == "unknown" {
		return true
	}

	localVersion, err := goversion.NewVersion(local)
	if err != nil {
		return true
	}

	remoteVersion, err := goversion.NewVersion(remote)
	if err != nil {
		return local != remote
	}

	return remoteVersion.GreaterThan(localVersion)
}
