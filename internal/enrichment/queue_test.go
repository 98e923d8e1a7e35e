package enrichment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(4)

	require.NoError(t, q.Send(context.Background(), "one"))
	require.NoError(t, q.Send(context.Background(), "two"))

	msgs, err := q.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Body)
	assert.Equal(t, "two", msgs[1].Body)
}

func TestMemoryQueueReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)

	start := time.Now()
	msgs, err := q.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestEnqueuerEncodesTask(t *testing.T) {
	q := NewMemoryQueue(1)
	e := NewEnqueuer(q)

	err := e.Enqueue(context.Background(), &Task{
		Type:     TaskProcessURLs,
		OrderID:  "11112222deadbeef",
		TargetID: "G123",
		URLs:     []string{"https://example.com/a.zip"},
	})
	require.NoError(t, err)

	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var task Task
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Body), &task))
	assert.Equal(t, TaskProcessURLs, task.Type)
	assert.Equal(t, "11112222deadbeef", task.OrderID)
}

func TestEnqueuerValidates(t *testing.T) {
	e := NewEnqueuer(NewMemoryQueue(1))

	assert.Error(t, e.Enqueue(context.Background(), nil))
	assert.Error(t, e.Enqueue(context.Background(), &Task{Type: TaskProcessURLs}))
}

func TestWorkerProcessesQueuedTask(t *testing.T) {
	q := NewMemoryQueue(4)
	dr := &fakeDrive{}
	ord := &fakeOrders{}
	sub := &fakeSubmitter{}
	p := NewProcessor(dr, &fakeFetcher{}, &fakeDownloader{}, ord, sub, nil)

	e := NewEnqueuer(q)
	require.NoError(t, e.Enqueue(context.Background(), &Task{
		Type:        TaskProcessAttachments,
		OrderID:     "11112222deadbeef",
		FolderID:    "existing",
		TargetID:    "G123",
		Attachments: []Attachment{{MessageID: "m1", FileName: "photo.jpg"}},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(p, q, nil, WithWorkerCount(1))
	w.Start(ctx)

	deadline := time.After(3 * time.Second)
	for len(dr.uploadedNames()) == 0 {
		select {
		case <-deadline:
			t.Fatal("task was not processed in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	w.Wait()

	assert.Equal(t, []string{"photo.jpg"}, dr.uploadedNames())
	assert.Len(t, sub.submitted(), 1)
}
