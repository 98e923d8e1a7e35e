// Package enrichment moves customer files into Drive asynchronously so
// webhook handling stays fast.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// TaskType selects what a task carries.
type TaskType string

const (
	TaskProcessAttachments TaskType = "process_attachments"
	TaskProcessURLs        TaskType = "process_urls"
)

// Attachment references a chat-platform file to download.
type Attachment struct {
	MessageID string `json:"message_id"`
	FileName  string `json:"file_name,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`
	MIMEType  string `json:"mime_type,omitempty"`
}

// Task is one unit of file-transfer work for an order.
type Task struct {
	Type            TaskType     `json:"task_type"`
	OrderID         string       `json:"order_id"`
	OrderCreatedAt  string       `json:"order_created_at"`
	FolderID        string       `json:"folder_id,omitempty"`
	FolderName      string       `json:"folder_name,omitempty"`
	ProjectName     string       `json:"project_name,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	URLs            []string     `json:"urls,omitempty"`
	TargetID        string       `json:"target_id"`
	TargetIsGroup   bool         `json:"is_group"`
	CompanyFolderID string       `json:"company_folder_id,omitempty"`
	UserName        string       `json:"user_name,omitempty"`
}

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Enqueuer publishes enrichment tasks, fire and forget.
type Enqueuer struct {
	queue queueClient
}

func NewEnqueuer(queue queueClient) *Enqueuer {
	if queue == nil {
		panic("enrichment: queue cannot be nil")
	}
	return &Enqueuer{queue: queue}
}

// Enqueue publishes one task.
func (e *Enqueuer) Enqueue(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("enrichment: task cannot be nil")
	}
	if task.OrderID == "" || task.TargetID == "" {
		return errors.New("enrichment: order id and target id required")
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("enrichment: failed to encode task: %w", err)
	}
	if err := e.queue.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("enrichment: failed to enqueue task: %w", err)
	}
	return nil
}
