package enrichment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yojigen/ai-secretary/internal/approval"
	"github.com/yojigen/ai-secretary/internal/downloads"
	"github.com/yojigen/ai-secretary/internal/drive"
	"github.com/yojigen/ai-secretary/internal/orders"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

const maxAttachmentBytes = 300 << 20

type driveAPI interface {
	EnsureFolder(ctx context.Context, parentID, name string) (string, error)
	Upload(ctx context.Context, folderID, name, mimeType string, data []byte) (string, error)
	WriteSourceURLs(ctx context.Context, folderID string, urls []string) error
	Download(ctx context.Context, fileID string) (string, string, []byte, error)
}

type attachmentFetcher interface {
	GetMessageContent(ctx context.Context, messageID string) (io.ReadCloser, error)
}

type urlFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*downloads.File, error)
}

type orderStore interface {
	SetFolder(ctx context.Context, orderID, createdAt, folderID, folderURL string) error
	SetStatus(ctx context.Context, orderID, createdAt, status string) error
	AppendNote(ctx context.Context, orderID, createdAt, note string) error
}

type submitter interface {
	Submit(ctx context.Context, in approval.SubmitInput) (*approval.SubmitResult, error)
}

// Processor executes enrichment tasks: resolve the order folder, move
// every file into it, note the order, then submit a completion notice
// through the approval gate.
type Processor struct {
	drive      driveAPI
	fetcher    attachmentFetcher
	downloader urlFetcher
	orders     orderStore
	pipeline   submitter
	logger     *logging.Logger
}

func NewProcessor(driveSvc driveAPI, fetcher attachmentFetcher, downloader urlFetcher, orders orderStore, pipeline submitter, logger *logging.Logger) *Processor {
	if driveSvc == nil {
		panic("enrichment: drive service cannot be nil")
	}
	if orders == nil {
		panic("enrichment: order store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		drive:      driveSvc,
		fetcher:    fetcher,
		downloader: downloader,
		orders:     orders,
		pipeline:   pipeline,
		logger:     logger,
	}
}

// Process runs one task. Individual file failures are skipped; the
// task only errors when nothing at all could be done.
func (p *Processor) Process(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("enrichment: task cannot be nil")
	}

	folderID, err := p.resolveFolder(ctx, task)
	if err != nil {
		return err
	}

	var saved []string
	switch task.Type {
	case TaskProcessAttachments:
		saved = p.processAttachments(ctx, task, folderID)
	case TaskProcessURLs:
		saved = p.processURLs(ctx, task, folderID)
	default:
		return fmt.Errorf("enrichment: unknown task type %q", task.Type)
	}

	if len(saved) > 0 {
		note := fmt.Sprintf("%d件のファイルをDriveに保存", len(saved))
		if err := p.orders.AppendNote(ctx, task.OrderID, task.OrderCreatedAt, note); err != nil {
			p.logger.Error("failed to append order note", "order_id", task.OrderID, "error", err)
		}
		if err := p.orders.SetStatus(ctx, task.OrderID, task.OrderCreatedAt, orders.StatusInProgress); err != nil {
			p.logger.Error("failed to advance order status", "order_id", task.OrderID, "error", err)
		}
	}

	p.submitCompletionNotice(ctx, task, folderID, saved)
	return nil
}

func (p *Processor) resolveFolder(ctx context.Context, task *Task) (string, error) {
	if task.FolderID != "" {
		return task.FolderID, nil
	}

	name := task.FolderName
	if name == "" {
		name = task.OrderID
		if len(name) > 8 {
			name = name[:8]
		}
	}
	folderID, err := p.drive.EnsureFolder(ctx, task.CompanyFolderID, name)
	if err != nil {
		return "", fmt.Errorf("enrichment: failed to resolve order folder: %w", err)
	}
	if err := p.orders.SetFolder(ctx, task.OrderID, task.OrderCreatedAt, folderID, drive.FolderURL(folderID)); err != nil {
		p.logger.Error("failed to record order folder", "order_id", task.OrderID, "error", err)
	}
	return folderID, nil
}

func (p *Processor) processAttachments(ctx context.Context, task *Task, folderID string) []string {
	var saved []string
	for i, att := range task.Attachments {
		name := att.FileName
		if name == "" {
			name = fmt.Sprintf("attachment_%d", i+1)
		}

		body, err := p.fetcher.GetMessageContent(ctx, att.MessageID)
		if err != nil {
			p.logger.Error("failed to fetch attachment", "message_id", att.MessageID, "error", err)
			continue
		}
		data, err := io.ReadAll(io.LimitReader(body, maxAttachmentBytes))
		body.Close()
		if err != nil {
			p.logger.Error("failed to read attachment", "message_id", att.MessageID, "error", err)
			continue
		}

		mimeType := att.MIMEType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		if _, err := p.drive.Upload(ctx, folderID, name, mimeType, data); err != nil {
			p.logger.Error("failed to upload attachment", "file_name", name, "error", err)
			continue
		}
		saved = append(saved, name)
	}
	return saved
}

func (p *Processor) processURLs(ctx context.Context, task *Task, folderID string) []string {
	var saved []string
	for _, rawURL := range task.URLs {
		name, err := p.transferURL(ctx, rawURL, folderID)
		if err != nil {
			p.logger.Error("failed to transfer url", "url", rawURL, "error", err)
			continue
		}
		saved = append(saved, name)
	}

	if err := p.drive.WriteSourceURLs(ctx, folderID, task.URLs); err != nil {
		p.logger.Error("failed to write source urls", "order_id", task.OrderID, "error", err)
	}
	return saved
}

func (p *Processor) transferURL(ctx context.Context, rawURL, folderID string) (string, error) {
	if downloads.DetectURLType(rawURL) == downloads.URLTypeGoogleDrive {
		fileID := downloads.DriveFileID(rawURL)
		if fileID == "" {
			return "", fmt.Errorf("enrichment: no file id in drive link %s", rawURL)
		}
		name, mimeType, data, err := p.drive.Download(ctx, fileID)
		if err != nil {
			return "", err
		}
		if _, err := p.drive.Upload(ctx, folderID, name, mimeType, data); err != nil {
			return "", err
		}
		return name, nil
	}

	file, err := p.downloader.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if _, err := p.drive.Upload(ctx, folderID, file.Name, file.MIMEType, file.Data); err != nil {
		return "", err
	}
	return file.Name, nil
}

// submitCompletionNotice drafts the customer-facing completion message
// and hands it to the approval gate. At most one notice per task.
func (p *Processor) submitCompletionNotice(ctx context.Context, task *Task, folderID string, saved []string) {
	if p.pipeline == nil {
		return
	}

	var b strings.Builder
	if len(saved) == 0 {
		b.WriteString("お送りいただいたファイルをお預かりできませんでした。\nお手数ですが再度お送りいただけますでしょうか。")
	} else {
		fmt.Fprintf(&b, "お送りいただいたファイル%d件をお預かりしました。\n", len(saved))
		if task.ProjectName != "" {
			fmt.Fprintf(&b, "案件: %s\n", task.ProjectName)
		}
		b.WriteString("内容を確認し、作業を進めさせていただきます。")
	}
	if task.OrderID != "" {
		idPrefix := task.OrderID
		if len(idPrefix) > 8 {
			idPrefix = idPrefix[:8]
		}
		fmt.Fprintf(&b, "\n\n(依頼ID: %s)", idPrefix)
	}

	if _, err := p.pipeline.Submit(ctx, approval.SubmitInput{
		TargetID:      task.TargetID,
		TargetIsGroup: task.TargetIsGroup,
		DraftText:     b.String(),
		RequesterName: task.UserName,
		OrderID:       task.OrderID,
		FolderURL:     drive.FolderURL(folderID),
	}); err != nil {
		p.logger.Error("failed to submit completion notice", "order_id", task.OrderID, "error", err)
	}
}
