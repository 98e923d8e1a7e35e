// Package downloads fetches customer-shared files from the hosting
// services that show up in intake conversations.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/yojigen/ai-secretary/pkg/logging"
)

// URLType classifies a shared link by hosting service.
type URLType string

const (
	URLTypeGoogleDrive URLType = "google_drive"
	URLTypeDropbox     URLType = "dropbox"
	URLTypeGigaFile    URLType = "gigafile"
	URLTypeGeneral     URLType = "general"
)

// ErrFileTooLarge is returned when a download exceeds the size cap.
var ErrFileTooLarge = errors.New("downloads: file exceeds size limit")

const maxDownloadBytes = 100 << 20

// DetectURLType identifies the hosting service behind a shared link.
func DetectURLType(raw string) URLType {
	u, err := url.Parse(raw)
	if err != nil {
		return URLTypeGeneral
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "drive.google.com" || host == "docs.google.com":
		return URLTypeGoogleDrive
	case host == "www.dropbox.com" || host == "dropbox.com" || strings.HasSuffix(host, ".dropbox.com"):
		return URLTypeDropbox
	case strings.HasSuffix(host, "gigafile.nu"):
		return URLTypeGigaFile
	default:
		return URLTypeGeneral
	}
}

var driveFileIDRegexps = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/folders/([a-zA-Z0-9_-]+)`),
}

// DriveFileID extracts the file or folder id from a Drive share link.
func DriveFileID(raw string) string {
	for _, re := range driveFileIDRegexps {
		if m := re.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
	}
	return ""
}

// NormalizeDropboxURL rewrites a Dropbox share link into a direct
// download link.
func NormalizeDropboxURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := strings.ToLower(u.Hostname())
	if host == "www.dropbox.com" || host == "dropbox.com" {
		u.Host = "dl.dropboxusercontent.com"
	}
	q := u.Query()
	q.Set("dl", "1")
	u.RawQuery = q.Encode()
	return u.String()
}

// File is a fetched payload ready for upload.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Downloader fetches shared files over HTTP.
type Downloader struct {
	httpClient *http.Client
	logger     *logging.Logger
}

func NewDownloader(logger *logging.Logger) *Downloader {
	if logger == nil {
		logger = logging.Default()
	}
	return &Downloader{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}
}

// SetHTTPClient overrides the HTTP client, used by tests.
func (d *Downloader) SetHTTPClient(c *http.Client) {
	d.httpClient = c
}

// Fetch downloads the file behind a shared link, following the
// service-specific indirections first. Drive links are not handled
// here; resolve those through the Drive API with DriveFileID.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (*File, error) {
	target := rawURL
	switch DetectURLType(rawURL) {
	case URLTypeGoogleDrive:
		return nil, errors.New("downloads: drive links must be fetched via the drive api")
	case URLTypeDropbox:
		target = NormalizeDropboxURL(rawURL)
	case URLTypeGigaFile:
		resolved, err := d.resolveGigaFile(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		target = resolved
	}
	return d.fetchDirect(ctx, target, rawURL)
}

func (d *Downloader) fetchDirect(ctx context.Context, target, original string) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("downloads: failed to create request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloads: failed to fetch %s: %w", original, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloads: fetch %s returned status %d", original, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("downloads: failed to read body of %s: %w", original, err)
	}
	if len(data) > maxDownloadBytes {
		return nil, ErrFileTooLarge
	}

	name := FilenameFromResponse(resp.Header.Get("Content-Disposition"), original)
	mimeType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &File{Name: name, MIMEType: mimeType, Data: data}, nil
}

var gigafileDownloadRegexps = []*regexp.Regexp{
	regexp.MustCompile(`(?:href|data-url)="(https://[^"]*gigafile\.nu/[^"]*download[^"]*)"`),
	regexp.MustCompile(`"(https://[^"]*gigafile\.nu/dl[^"]*)"`),
}

// resolveGigaFile scrapes the share page for the direct download link.
func (d *Downloader) resolveGigaFile(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("downloads: failed to create request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloads: failed to fetch gigafile page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("downloads: failed to read gigafile page: %w", err)
	}

	page := string(body)
	for _, re := range gigafileDownloadRegexps {
		if m := re.FindStringSubmatch(page); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("downloads: no download link found in gigafile page %s", pageURL)
}

var rfc5987Regexp = regexp.MustCompile(`filename\*=(?:UTF-8|utf-8)''([^;]+)`)

// FilenameFromResponse picks a filename from the Content-Disposition
// header, preferring the RFC 5987 encoded form, then the quoted form,
// then the bare form, then the URL path.
func FilenameFromResponse(disposition, rawURL string) string {
	if disposition != "" {
		if m := rfc5987Regexp.FindStringSubmatch(disposition); m != nil {
			if decoded, err := url.QueryUnescape(strings.TrimSpace(m[1])); err == nil && decoded != "" {
				return decoded
			}
		}
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			if decoded, err := url.QueryUnescape(base); err == nil {
				return decoded
			}
			return base
		}
	}
	return "downloaded_file"
}
