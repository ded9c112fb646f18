package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/guardian/internal/models"
)

// fakeBot records sent messages and fails the first failures calls
type fakeBot struct {
	failures int
	calls    int
	sent     []tgbotapi.MessageConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.calls++
	if f.calls <= f.failures {
		return tgbotapi.Message{}, errors.New("too many requests: retry after 1")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: f.calls}, nil
}

func newTestClient(t *testing.T, bot *fakeBot) *Client {
	t.Helper()
	c, err := newClient(bot, "-100123", 3, time.Millisecond)
	require.NoError(t, err)
	return c
}

func sampleAlerts() []models.Alert {
	detected := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return []models.Alert{
		{ID: "a-1", PatientID: "p_1", Rhythm: models.RhythmSinusTachycardia, HeartRate: 131, Confidence: 0.98, DetectedAt: detected},
		{ID: "a-2", PatientID: "p-2", Rhythm: models.RhythmPossibleArrhythmia, HeartRate: 88, Variability: 62.5, Confidence: 0.725, DetectedAt: detected},
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	_, err := newClient(&fakeBot{}, "not-a-number", 3, time.Second)
	assert.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := newClient(&fakeBot{}, "42", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.chatID)
	assert.Equal(t, 3, c.maxRetries)
	assert.Equal(t, time.Second, c.retryDelayBase)
}

func TestSend(t *testing.T) {
	bot := &fakeBot{}
	c := newTestClient(t, bot)

	require.NoError(t, c.Send(sampleAlerts()))
	require.Len(t, bot.sent, 1)

	msg := bot.sent[0]
	assert.Equal(t, int64(-100123), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, msg.ParseMode)
	assert.Contains(t, msg.Text, "1\\. 📈 *Sinus Tachycardia*")
	assert.Contains(t, msg.Text, "2\\. 💓 *Possible Arrhythmia*")
	assert.Contains(t, msg.Text, "Patient: `p_1`")
	assert.Contains(t, msg.Text, "*131 bpm*")
	assert.Contains(t, msg.Text, "62\\.5 ms")
	assert.Contains(t, msg.Text, "2026\\-03\\-01 08:00:00 UTC")
	assert.Equal(t, 1, strings.Count(msg.Text, "variability"), "variability is shown only when measured")
}

func TestSend_EmptyIsNoop(t *testing.T) {
	bot := &fakeBot{}
	require.NoError(t, newTestClient(t, bot).Send(nil))
	assert.Zero(t, bot.calls)
}

func TestSend_Retry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantErr   bool
		wantCalls int
	}{
		{"first attempt", 0, false, 1},
		{"recovers on retry", 2, false, 3},
		{"gives up", 5, true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := &fakeBot{failures: tt.failures}
			err := newTestClient(t, bot).Send(sampleAlerts())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "after 3 retries")
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, bot.calls)
		})
	}
}

func TestSendErrorAndRecovery(t *testing.T) {
	bot := &fakeBot{}
	c := newTestClient(t, bot)

	require.NoError(t, c.SendError(errors.New("database is locked (5)")))
	require.NoError(t, c.SendRecovery(1))
	require.NoError(t, c.SendRecovery(4))
	require.Len(t, bot.sent, 3)

	assert.Contains(t, bot.sent[0].Text, "database is locked \\(5\\)")
	assert.Contains(t, bot.sent[1].Text, "after 1 failed cycle\\.")
	assert.Contains(t, bot.sent[2].Text, "after 4 failed cycles\\.")
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"72.5", "72\\.5"},
		{"a_b*c", "a\\_b\\*c"},
		{"(x) [y] {z}", "\\(x\\) \\[y\\] \\{z\\}"},
		{"2026-03-01", "2026\\-03\\-01"},
		{"100%!", "100%\\!"},
		{`back\slash`, `back\\slash`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeMarkdownV2(tt.in))
		})
	}
}

func TestEscapeCode(t *testing.T) {
	assert.Equal(t, "p\\`1", escapeCode("p`1"))
	assert.Equal(t, "p_1", escapeCode("p_1"))
}
