// Package drive stores order files in Google Drive, one folder per
// order under the client company's folder.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yojigen/ai-secretary/pkg/logging"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMIMEType = "application/vnd.google-apps.folder"
	sourceURLsName = "source_urls.txt"
)

var jst = time.FixedZone("JST", 9*60*60)

// Service wraps the Drive API for order folder management.
type Service struct {
	api          *drive.Service
	rootFolderID string
	logger       *logging.Logger
}

func NewService(ctx context.Context, credentialsJSON []byte, rootFolderID string, logger *logging.Logger) (*Service, error) {
	if len(credentialsJSON) == 0 {
		return nil, errors.New("drive: credentials required")
	}
	if rootFolderID == "" {
		return nil, errors.New("drive: root folder id required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	api, err := drive.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(drive.DriveScope),
	)
	if err != nil {
		return nil, fmt.Errorf("drive: failed to create service: %w", err)
	}
	return &Service{api: api, rootFolderID: rootFolderID, logger: logger}, nil
}

// OrderFolderName builds the per-order folder name from the order date,
// project, staff member and short order id.
func OrderFolderName(createdAt time.Time, projectName, staffName, orderIDPrefix string) string {
	parts := []string{createdAt.In(jst).Format("2006-01-02")}
	if projectName != "" {
		parts = append(parts, sanitizeSegment(projectName))
	}
	if staff := NormalizeStaffName(staffName); staff != "" {
		parts = append(parts, staff+"様")
	}
	parts = append(parts, orderIDPrefix)
	return strings.Join(parts, "_")
}

// NormalizeStaffName strips chat display-name decorations: a trailing
// " - suffix" block and any honorific already present.
func NormalizeStaffName(name string) string {
	if i := strings.Index(name, " - "); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(strings.TrimSpace(name), "様")
	return strings.TrimSpace(name)
}

func sanitizeSegment(s string) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", "\n", " ")
	return strings.TrimSpace(replacer.Replace(s))
}

// EnsureFolder returns the id of a child folder with the given name,
// creating it when absent.
func (s *Service) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	if parentID == "" {
		parentID = s.rootFolderID
	}
	query := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		strings.ReplaceAll(name, "'", "\\'"), parentID, folderMIMEType)

	list, err := s.api.Files.List().Q(query).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive: failed to search for folder %q: %w", name, err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	folder, err := s.api.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMIMEType,
		Parents:  []string{parentID},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive: failed to create folder %q: %w", name, err)
	}

	s.logger.Info("drive folder created", "name", name, "folder_id", folder.Id)
	return folder.Id, nil
}

// Upload stores a file in a folder and returns the new file id.
func (s *Service) Upload(ctx context.Context, folderID, name, mimeType string, data []byte) (string, error) {
	if folderID == "" || name == "" {
		return "", errors.New("drive: folder id and file name required")
	}
	file, err := s.api.Files.Create(&drive.File{
		Name:    name,
		Parents: []string{folderID},
	}).Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive: failed to upload %q: %w", name, err)
	}
	return file.Id, nil
}

// WriteSourceURLs records the customer's original share links alongside
// the downloaded files.
func (s *Service) WriteSourceURLs(ctx context.Context, folderID string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	content := strings.Join(urls, "\n") + "\n"
	_, err := s.Upload(ctx, folderID, sourceURLsName, "text/plain", []byte(content))
	return err
}

// Download fetches a Drive-hosted file's content and name by id.
func (s *Service) Download(ctx context.Context, fileID string) (string, string, []byte, error) {
	meta, err := s.api.Files.Get(fileID).Fields("name", "mimeType").Context(ctx).Do()
	if err != nil {
		return "", "", nil, fmt.Errorf("drive: failed to stat file %s: %w", fileID, err)
	}
	resp, err := s.api.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return "", "", nil, fmt.Errorf("drive: failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", "", nil, fmt.Errorf("drive: failed to read file %s: %w", fileID, err)
	}
	return meta.Name, meta.MimeType, buf.Bytes(), nil
}

// Share grants read access on a folder to an email address.
func (s *Service) Share(ctx context.Context, folderID, email string) error {
	if folderID == "" || email == "" {
		return errors.New("drive: folder id and email required")
	}
	_, err := s.api.Permissions.Create(folderID, &drive.Permission{
		Type:         "user",
		Role:         "reader",
		EmailAddress: email,
	}).SendNotificationEmail(false).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive: failed to share folder %s with %s: %w", folderID, email, err)
	}
	return nil
}

// FolderURL is the browsable link for a folder id.
func FolderURL(folderID string) string {
	if folderID == "" {
		return ""
	}
	return "https://drive.google.com/drive/folders/" + folderID
}
