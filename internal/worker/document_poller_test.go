package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/chat"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/workflow"
)

type pollerFakes struct {
	mu           sync.Mutex
	records      []domain.CredentialRecord
	watermarkErr error
	triggerResp  workflow.RawResult
	triggerErr   error
	syncErr      error

	// call order across collaborators, for ordering assertions
	calls []string
}

func (f *pollerFakes) ListEnabled(context.Context) ([]domain.CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records, nil
}

func (f *pollerFakes) UpdateWatermark(_ context.Context, userID string, mark domain.Watermark) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "watermark:"+mark.FileID)
	if f.watermarkErr != nil {
		return f.watermarkErr
	}
	for i := range f.records {
		if f.records[i].UserID == userID {
			f.records[i].LastProcessed = mark
		}
	}
	return nil
}

func (f *pollerFakes) RunFlow(_ context.Context, sessionID string, _ any, _ workflow.Parameters) (workflow.RawResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "trigger:"+sessionID)
	return f.triggerResp, f.triggerErr
}

func (f *pollerFakes) StartSync(_ context.Context, channelID, userID string, documentsOnly bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "sync:"+channelID)
	if !documentsOnly {
		return errors.New("detection syncs must be documents-only")
	}
	return f.syncErr
}

func (f *pollerFakes) PostMessage(_ context.Context, channelID, _ string, _ []chat.Block, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "notify:"+channelID)
	return "ts-1", nil
}

func triggerResponse(body string) workflow.RawResult {
	return workflow.RawResult{"message": body}
}

func newPollerFixture() (*DocumentPoller, *pollerFakes) {
	fakes := &pollerFakes{
		records: []domain.CredentialRecord{{
			UserID:  "U1",
			Enabled: true,
			FlowConfig: domain.FlowConfig{
				NotificationChannel: "C-notify",
			},
			LastProcessed: domain.Watermark{
				FileID:       "f-old",
				ModifiedTime: "2024-04-01T00:00:00Z",
			},
		}},
	}
	poller := NewDocumentPoller(PollerDependencies{
		Credentials: fakes,
		Trigger:     fakes,
		Syncs:       fakes,
		Notifier:    fakes,
		Logger:      zap.NewNop(),
	})
	return poller, fakes
}

func TestRunOnceNotifiesForNewDocuments(t *testing.T) {
	poller, fakes := newPollerFixture()
	fakes.triggerResp = triggerResponse(`{
		"has_new_files": true,
		"new_files": [{"file_id": "f-new", "name": "Kickoff notes", "modified_time": "2024-05-01T00:00:00Z"}],
		"latest_file": {"file_id": "f-new", "name": "Kickoff notes", "modified_time": "2024-05-01T00:00:00Z"}
	}`)

	poller.RunOnce(context.Background())

	require.Len(t, fakes.calls, 3)
	assert.Contains(t, fakes.calls[0], "trigger:")
	assert.Equal(t, "watermark:f-new", fakes.calls[1], "watermark must advance before any notification")
	assert.Equal(t, "notify:C-notify", fakes.calls[2])
	assert.Equal(t, "f-new", fakes.records[0].LastProcessed.FileID)
}

func TestRunOnceAutoSyncsDocumentsOnlyUsers(t *testing.T) {
	poller, fakes := newPollerFixture()
	fakes.records[0].FlowConfig.DocumentsOnly = true
	fakes.triggerResp = triggerResponse(`{
		"has_new_files": true,
		"latest_file": {"file_id": "f-new", "name": "Kickoff notes", "modified_time": "2024-05-01T00:00:00Z"}
	}`)

	poller.RunOnce(context.Background())

	require.Len(t, fakes.calls, 3)
	assert.Equal(t, "watermark:f-new", fakes.calls[1])
	assert.Equal(t, "sync:C-notify", fakes.calls[2])
}

func TestRunOnceSkipsWhenNothingNew(t *testing.T) {
	poller, fakes := newPollerFixture()
	fakes.triggerResp = triggerResponse(`{"has_new_files": false}`)

	poller.RunOnce(context.Background())

	require.Len(t, fakes.calls, 1)
	assert.Contains(t, fakes.calls[0], "trigger:")
}

func TestRunOnceSkipsAlreadyProcessedFile(t *testing.T) {
	poller, fakes := newPollerFixture()
	fakes.triggerResp = triggerResponse(`{
		"has_new_files": true,
		"latest_file": {"file_id": "f-old", "name": "Old doc", "modified_time": "2024-04-01T00:00:00Z"}
	}`)

	poller.RunOnce(context.Background())

	require.Len(t, fakes.calls, 1, "a file matching the watermark must not re-trigger")
}

func TestRunOnceWatermarkFailureSuppressesSync(t *testing.T) {
	poller, fakes := newPollerFixture()
	fakes.watermarkErr = errors.New("store down")
	fakes.triggerResp = triggerResponse(`{
		"has_new_files": true,
		"latest_file": {"file_id": "f-new", "name": "New doc", "modified_time": "2024-05-01T00:00:00Z"}
	}`)

	poller.RunOnce(context.Background())

	for _, call := range fakes.calls {
		assert.NotContains(t, call, "sync:", "sync must not run when the watermark write failed")
		assert.NotContains(t, call, "notify:")
	}
}

func TestRunOnceEachPollHasFreshSession(t *testing.T) {
	poller, fakes := newPollerFixture()
	fakes.triggerResp = triggerResponse(`{"has_new_files": false}`)

	poller.RunOnce(context.Background())
	firstCalls := append([]string(nil), fakes.calls...)
	poller.RunOnce(context.Background())

	require.Len(t, fakes.calls, 2)
	assert.NotEqual(t, firstCalls[0], fakes.calls[1], "poll sessions must not be reused")
}

func TestRunOnceNoNotificationChannel(t *testing.T) {
	poller, fakes := newPollerFixture()
	fakes.records[0].FlowConfig.NotificationChannel = ""
	fakes.triggerResp = triggerResponse(`{
		"has_new_files": true,
		"latest_file": {"file_id": "f-new", "name": "New doc", "modified_time": "2024-05-01T00:00:00Z"}
	}`)

	poller.RunOnce(context.Background())

	assert.Equal(t, "f-new", fakes.records[0].LastProcessed.FileID)
	for _, call := range fakes.calls {
		assert.NotContains(t, call, "sync:")
		assert.NotContains(t, call, "notify:")
	}
}
