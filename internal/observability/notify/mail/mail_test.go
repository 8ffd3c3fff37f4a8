package mail

import (
	"context"
	"encoding/base64"
	"io"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfdeck/perfdeck/internal/observability/notify"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  []byte
}

func newCapturingSender(t *testing.T, cfg Config) (*Sender, *sentMail) {
	t.Helper()
	captured := &sentMail{}
	cfg.SendFunc = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		captured.addr = addr
		captured.from = from
		captured.to = to
		captured.msg = msg
		return nil
	}
	sender, err := NewSender(cfg)
	require.NoError(t, err)
	return sender, captured
}

func scheduleCtx() notify.ScheduleContext {
	return notify.ScheduleContext{
		ScheduleID:  7,
		ProjectID:   "proj-1",
		ProjectName: "checkout-api",
		Subtype:     "postman",
		Cron:        "0 6 * * *",
	}
}

func TestNewSenderValidation(t *testing.T) {
	_, err := NewSender(Config{From: "x@y"})
	require.Error(t, err)

	_, err = NewSender(Config{Addr: "localhost:25"})
	require.Error(t, err)
}

func TestSendRunFailure(t *testing.T) {
	sender, captured := newCapturingSender(t, Config{Addr: "localhost:25", From: "perfdeck@localhost"})

	err := sender.Send(context.Background(), notify.Message{
		Kind:       notify.KindRunFailure,
		Recipient:  "ops@example.com",
		Schedule:   scheduleCtx(),
		Error:      "exit status 1",
		RunID:      42,
		OccurredAt: time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "localhost:25", captured.addr)
	assert.Equal(t, "perfdeck@localhost", captured.from)
	assert.Equal(t, []string{"ops@example.com"}, captured.to)

	body := string(captured.msg)
	assert.Contains(t, body, "scheduled test failed")
	assert.Contains(t, body, "checkout-api")
	assert.Contains(t, body, "exit status 1")
	assert.Contains(t, body, "Execution: #42")
	assert.Contains(t, body, "2026-03-14T06:00:00Z")
	assert.NotContains(t, body, "multipart/mixed")
}

func TestSendRequiresRecipient(t *testing.T) {
	sender, _ := newCapturingSender(t, Config{Addr: "localhost:25", From: "perfdeck@localhost"})

	err := sender.Send(context.Background(), notify.Message{
		Kind:     notify.KindRunFailure,
		Schedule: scheduleCtx(),
	})
	require.Error(t, err)
}

type fakeStore struct {
	content string
}

func (f *fakeStore) Save(_ context.Context, _, _ string, _ io.Reader) (string, error) {
	return "", nil
}

func (f *fakeStore) Exists(_ context.Context, _ string) (bool, error) { return true, nil }

func (f *fakeStore) Open(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.content)), nil
}

func (f *fakeStore) Delete(_ context.Context, _ string) error { return nil }

func TestSendReportReadyAttachesArtifact(t *testing.T) {
	report := `{"total":10,"failed":0}`
	sender, captured := newCapturingSender(t, Config{
		Addr:  "localhost:25",
		From:  "perfdeck@localhost",
		Store: &fakeStore{content: report},
	})

	err := sender.Send(context.Background(), notify.Message{
		Kind:       notify.KindReportReady,
		Recipient:  "ops@example.com",
		Schedule:   scheduleCtx(),
		ReportPath: "reports/run-42/summary.json",
		RunID:      42,
	})
	require.NoError(t, err)

	body := string(captured.msg)
	assert.Contains(t, body, "test report ready")
	assert.Contains(t, body, "multipart/mixed")
	assert.Contains(t, body, `filename="summary.json"`)
	assert.Contains(t, body, base64.StdEncoding.EncodeToString([]byte(report)))
}

func TestSendReportFailureWordsCarefully(t *testing.T) {
	sender, captured := newCapturingSender(t, Config{Addr: "localhost:25", From: "perfdeck@localhost"})

	err := sender.Send(context.Background(), notify.Message{
		Kind:      notify.KindReportFailure,
		Recipient: "ops@example.com",
		Schedule:  scheduleCtx(),
		Error:     "artifact never became readable",
	})
	require.NoError(t, err)

	body := string(captured.msg)
	assert.Contains(t, body, "report generation failed")
	assert.Contains(t, body, "The test itself did not fail")
	assert.Contains(t, body, "artifact never became readable")
}
