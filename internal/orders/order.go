package orders

import "time"

// Order status values. Orders are append-only: they advance status and
// accumulate notes but are never deleted.
const (
	StatusReceived   = "received"
	StatusInProgress = "in_progress"
	StatusDelivered  = "delivered"
)

// Order is one customer work request. order_id plus created_at form the
// composite identity; updates must target the exact version.
type Order struct {
	OrderID        string   `dynamodbav:"order_id" json:"order_id"`
	CreatedAt      string   `dynamodbav:"created_at" json:"created_at"`
	ConversationID string   `dynamodbav:"conversation_id" json:"conversation_id"`
	CustomerID     string   `dynamodbav:"customer_id" json:"customer_id"`
	CustomerName   string   `dynamodbav:"customer_name" json:"customer_name"`
	Company        string   `dynamodbav:"company,omitempty" json:"company,omitempty"`
	Message        string   `dynamodbav:"message" json:"message"`
	Status         string   `dynamodbav:"status" json:"status"`
	ServiceType    string   `dynamodbav:"service_type" json:"service_type"`
	Deadline       string   `dynamodbav:"deadline,omitempty" json:"deadline,omitempty"`
	ProjectName    string   `dynamodbav:"project_name,omitempty" json:"project_name,omitempty"`
	FolderID       string   `dynamodbav:"folder_id,omitempty" json:"folder_id,omitempty"`
	FolderURL      string   `dynamodbav:"folder_url,omitempty" json:"folder_url,omitempty"`
	SourceURLs     []string `dynamodbav:"source_urls,omitempty" json:"source_urls,omitempty"`
	Notes          []string `dynamodbav:"notes,omitempty" json:"notes,omitempty"`
}

// IDPrefix is the short human-typable form shown in replies and used by
// operators to reference an order.
func (o *Order) IDPrefix() string {
	if len(o.OrderID) < 8 {
		return o.OrderID
	}
	return o.OrderID[:8]
}

// CreatedTime parses the created_at sort key.
func (o *Order) CreatedTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, o.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
