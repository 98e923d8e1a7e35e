// Package gcal registers order deadlines on the production calendar.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yojigen/ai-secretary/pkg/logging"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const timezone = "Asia/Tokyo"

// Service wraps the Calendar API for deadline events.
type Service struct {
	api        *calendar.Service
	calendarID string
	logger     *logging.Logger
}

func NewService(ctx context.Context, credentialsJSON []byte, calendarID string, logger *logging.Logger) (*Service, error) {
	if len(credentialsJSON) == 0 {
		return nil, errors.New("gcal: credentials required")
	}
	if calendarID == "" {
		return nil, errors.New("gcal: calendar id required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	api, err := calendar.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(calendar.CalendarEventsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("gcal: failed to create service: %w", err)
	}
	return &Service{api: api, calendarID: calendarID, logger: logger}, nil
}

// EventTitle builds the deadline event summary.
func EventTitle(companyName, orderIDPrefix string) string {
	return fmt.Sprintf("【納期】%s - %s", companyName, orderIDPrefix)
}

// CreateDeadlineEvent adds a one-hour event ending at the deadline.
func (s *Service) CreateDeadlineEvent(ctx context.Context, companyName, orderIDPrefix string, deadline time.Time, description string) error {
	if deadline.IsZero() {
		return errors.New("gcal: deadline required")
	}

	event := &calendar.Event{
		Summary:     EventTitle(companyName, orderIDPrefix),
		Description: description,
		Start: &calendar.EventDateTime{
			DateTime: deadline.Add(-time.Hour).Format(time.RFC3339),
			TimeZone: timezone,
		},
		End: &calendar.EventDateTime{
			DateTime: deadline.Format(time.RFC3339),
			TimeZone: timezone,
		},
	}

	if _, err := s.api.Events.Insert(s.calendarID, event).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gcal: failed to create deadline event: %w", err)
	}

	s.logger.Info("deadline event created", "company", companyName, "order_id", orderIDPrefix, "deadline", deadline)
	return nil
}
