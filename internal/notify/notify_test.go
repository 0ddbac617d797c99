package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"snowballrss/internal/consumer"
	"snowballrss/internal/domain"
)

var (
	_ consumer.Sender = (*Mail)(nil)
	_ consumer.Sender = (*Slack)(nil)
	_ consumer.Sender = (*QQ)(nil)
	_ consumer.Sender = (*Telegram)(nil)
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var samplePost = domain.Post{
	Title:         "今天加仓了",
	Content:       "hello\nworld",
	PublishedTime: time.Date(2020, 2, 3, 4, 5, 6, 0, time.UTC),
	Link:          "https://xueqiu.com/123/456",
	Author:        "盛京剑客",
}

func TestMailBody(t *testing.T) {
	want := strings.Join([]string{
		"Title:",
		"今天加仓了",
		"",
		"",
		"Body:",
		"hello",
		"world",
		"",
		"",
		"Published at: Mon, 03 Feb 2020 04:05:06 +0000",
		"link: https://xueqiu.com/123/456",
		"",
		"",
	}, "\n")
	assert.Equal(t, want, MailBody(samplePost))
}

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func newTestMail(opts MailOptions) (*Mail, *fakeDialer) {
	m := NewMail(opts, quietLogger())
	d := &fakeDialer{}
	m.dialer = d
	return m, d
}

func TestMail_Send(t *testing.T) {
	m, d := newTestMail(MailOptions{
		Username:    "bot@example.com",
		Subscribers: []string{"a@example.com", "b@example.com"},
	})

	require.NoError(t, m.Send(context.Background(), samplePost, []byte("png")))
	require.Len(t, d.sent, 1)
	msg := d.sent[0]
	assert.Equal(t, []string{"bot@example.com"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{MailSubject}, msg.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `filename="screenshot.png"`)
	assert.Contains(t, buf.String(), "image/png")
}

func TestMail_Errors(t *testing.T) {
	m, _ := newTestMail(MailOptions{Username: "bot@example.com"})
	assert.ErrorIs(t, m.Send(context.Background(), samplePost, nil), ErrNotConfigured)
	assert.ErrorIs(t, m.Notify(context.Background(), Message{Text: "x"}), ErrNotConfigured)

	m, d := newTestMail(MailOptions{Username: "bot@example.com", Subscribers: []string{"a@example.com"}})
	d.err = errors.New("535 auth failed")
	err := m.Send(context.Background(), samplePost, []byte("png"))
	assert.ErrorContains(t, err, "535 auth failed")
}

func TestMail_Notify(t *testing.T) {
	m, d := newTestMail(MailOptions{Username: "bot@example.com", From: "rss@example.com", Admin: "admin@example.com"})

	err := m.Notify(context.Background(), Message{
		Text:        "Service up",
		Attachments: []Attachment{{Name: "snowball.log", Data: []byte("log")}},
	})
	require.NoError(t, err)
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"rss@example.com"}, d.sent[0].GetHeader("From"))
	assert.Equal(t, []string{"admin@example.com"}, d.sent[0].GetHeader("To"))

	var buf bytes.Buffer
	_, err = d.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Service up")
	assert.Contains(t, buf.String(), `filename="snowball.log"`)
}

func TestMail_SendTest(t *testing.T) {
	m, d := newTestMail(MailOptions{Username: "bot@example.com", Admin: "admin@example.com"})

	require.NoError(t, m.SendTest(context.Background()))
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"testing email service"}, d.sent[0].GetHeader("Subject"))
	assert.Equal(t, []string{"admin@example.com"}, d.sent[0].GetHeader("To"))
}

type oneBotServer struct {
	mu       sync.Mutex
	paths    []string
	bodies   []map[string]any
	auth     []string
	response string
}

func (s *oneBotServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.Path)
		s.bodies = append(s.bodies, body)
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		resp := s.response
		s.mu.Unlock()
		if resp == "" {
			resp = `{"status":"ok","retcode":0,"data":{"message_id":1}}`
		}
		_, _ = io.WriteString(w, resp)
	}
}

func TestQQ_Send(t *testing.T) {
	srv := &oneBotServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	q := NewQQ(QQOptions{Endpoint: ts.URL + "/", AccessToken: "secret", GroupID: 42}, quietLogger())
	require.NoError(t, q.Send(context.Background(), samplePost, []byte("png")))

	assert.Equal(t, []string{"/send_group_msg", "/send_group_msg"}, srv.paths)
	assert.Equal(t, []string{"Bearer secret", "Bearer secret"}, srv.auth)
	assert.Equal(t, float64(42), srv.bodies[0]["group_id"])
	assert.Equal(t, "盛京剑客发布了一条新消息\nhttps://xueqiu.com/123/456\n截图发送中", srv.bodies[0]["message"])
	assert.Equal(t, true, srv.bodies[0]["auto_escape"])
	assert.Equal(t, "[CQ:image,file=base64://cG5n]", srv.bodies[1]["message"])
	assert.Equal(t, false, srv.bodies[1]["auto_escape"])
}

func TestQQ_Rejected(t *testing.T) {
	srv := &oneBotServer{response: `{"status":"failed","retcode":100,"wording":"bot muted"}`}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	q := NewQQ(QQOptions{Endpoint: ts.URL, GroupID: 42}, quietLogger())
	err := q.Send(context.Background(), samplePost, []byte("png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot muted")
	assert.Len(t, srv.paths, 1, "screenshot is not sent after the text failed")
}

func TestQQ_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	q := NewQQ(QQOptions{Endpoint: ts.URL, GroupID: 42}, quietLogger())
	assert.ErrorContains(t, q.Send(context.Background(), samplePost, nil), "http status 502")
}

func TestQQ_Notify(t *testing.T) {
	srv := &oneBotServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	assert.ErrorIs(t, NewQQ(QQOptions{Endpoint: ts.URL}, quietLogger()).Notify(context.Background(), Message{Text: "x"}), ErrNotConfigured)

	q := NewQQ(QQOptions{Endpoint: ts.URL, AdminID: 7}, quietLogger())
	require.NoError(t, q.Notify(context.Background(), Message{Text: "Service up"}))
	assert.Equal(t, []string{"/send_private_msg"}, srv.paths)
	assert.Equal(t, float64(7), srv.bodies[0]["user_id"])
	assert.Equal(t, "Service up", srv.bodies[0]["message"])
	assert.Empty(t, srv.auth[0])
}

type mockSlackClient struct {
	mock.Mock
}

func (m *mockSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	args := m.Called(ctx, channelID, options)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *mockSlackClient) UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	args := m.Called(ctx, params)
	summary, _ := args.Get(0).(*slack.FileSummary)
	return summary, args.Error(1)
}

func TestSlack_Send(t *testing.T) {
	client := new(mockSlackClient)
	client.On("PostMessageContext", mock.Anything, "C-NOTIFY", mock.Anything).Return("C-NOTIFY", "1.0", nil).Once()
	client.On("UploadFileV2Context", mock.Anything, mock.MatchedBy(func(p slack.UploadFileV2Parameters) bool {
		return p.Channel == "C-NOTIFY" && p.Filename == ScreenshotName && p.FileSize == 3
	})).Return(&slack.FileSummary{ID: "F1"}, nil).Once()

	s := NewSlack(SlackOptions{Token: "xoxb", NotifyChannel: "C-NOTIFY"}, quietLogger())
	s.client = client

	require.NoError(t, s.Send(context.Background(), samplePost, []byte("png")))
	client.AssertExpectations(t)
}

func TestSlack_SendPostFailureSkipsUpload(t *testing.T) {
	client := new(mockSlackClient)
	client.On("PostMessageContext", mock.Anything, mock.Anything, mock.Anything).Return("", "", errors.New("channel_not_found"))

	s := NewSlack(SlackOptions{NotifyChannel: "C-NOTIFY"}, quietLogger())
	s.client = client

	assert.ErrorContains(t, s.Send(context.Background(), samplePost, []byte("png")), "channel_not_found")
	client.AssertNotCalled(t, "UploadFileV2Context", mock.Anything, mock.Anything)
}

func TestSlack_NotifyUsesStatusChannel(t *testing.T) {
	client := new(mockSlackClient)
	client.On("PostMessageContext", mock.Anything, "C-STATUS", mock.Anything).Return("C-STATUS", "1.0", nil).Once()
	client.On("UploadFileV2Context", mock.Anything, mock.MatchedBy(func(p slack.UploadFileV2Parameters) bool {
		return p.Channel == "C-STATUS" && p.Filename == "snowball.log"
	})).Return(&slack.FileSummary{ID: "F2"}, nil).Once()

	s := NewSlack(SlackOptions{NotifyChannel: "C-NOTIFY", StatusChannel: "C-STATUS"}, quietLogger())
	s.client = client

	err := s.Notify(context.Background(), Message{Text: "down", Attachments: []Attachment{{Name: "snowball.log", Data: []byte("x")}}})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

type mockTelegramClient struct {
	mock.Mock
}

func (m *mockTelegramClient) SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error) {
	args := m.Called(ctx, params)
	return &models.Message{ID: 1}, args.Error(0)
}

func (m *mockTelegramClient) SendPhoto(ctx context.Context, params *tgbot.SendPhotoParams) (*models.Message, error) {
	args := m.Called(ctx, params)
	return &models.Message{ID: 2}, args.Error(0)
}

func (m *mockTelegramClient) SendDocument(ctx context.Context, params *tgbot.SendDocumentParams) (*models.Message, error) {
	args := m.Called(ctx, params)
	return &models.Message{ID: 3}, args.Error(0)
}

func TestTelegram_Send(t *testing.T) {
	client := new(mockTelegramClient)
	client.On("SendPhoto", mock.Anything, mock.MatchedBy(func(p *tgbot.SendPhotoParams) bool {
		upload, ok := p.Photo.(*models.InputFileUpload)
		return ok && p.ChatID == int64(-100) && upload.Filename == ScreenshotName &&
			p.Caption == "今天加仓了\nhttps://xueqiu.com/123/456"
	})).Return(nil).Once()

	tg := &Telegram{opts: TelegramOptions{ChatID: -100}, client: client, log: quietLogger()}
	require.NoError(t, tg.Send(context.Background(), samplePost, []byte("png")))
	client.AssertExpectations(t)
}

func TestTelegram_Notify(t *testing.T) {
	client := new(mockTelegramClient)
	client.On("SendMessage", mock.Anything, mock.MatchedBy(func(p *tgbot.SendMessageParams) bool {
		return p.ChatID == int64(9) && p.Text == "Service up"
	})).Return(nil).Once()
	client.On("SendDocument", mock.Anything, mock.Anything).Return(nil).Once()

	tg := &Telegram{opts: TelegramOptions{AdminChatID: 9}, client: client, log: quietLogger()}
	require.NoError(t, tg.Notify(context.Background(), Message{
		Text:        "Service up",
		Attachments: []Attachment{{Name: "snowball.log", Data: []byte("log")}},
	}))
	client.AssertExpectations(t)

	tg.opts.AdminChatID = 0
	assert.ErrorIs(t, tg.Notify(context.Background(), Message{Text: "x"}), ErrNotConfigured)
}

func TestTelegramCaption_KeepsLink(t *testing.T) {
	p := samplePost
	p.Title = strings.Repeat("长", 2000)
	caption := TelegramCaption(p)
	assert.LessOrEqual(t, len([]rune(caption)), telegramCaptionLimit)
	assert.True(t, strings.HasSuffix(caption, "\n"+p.Link))
}

type mockDiscordClient struct {
	mock.Mock
}

func (m *mockDiscordClient) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(channelID, data)
	return &discordgo.Message{}, args.Error(0)
}

func TestDiscord_Notify(t *testing.T) {
	client := new(mockDiscordClient)
	client.On("ChannelMessageSendComplex", "chan", mock.MatchedBy(func(s *discordgo.MessageSend) bool {
		return len([]rune(s.Content)) == discordContentLimit && len(s.Files) == 1 && s.Files[0].Name == "snowball.log"
	})).Return(nil).Once()

	d := &Discord{channel: "chan", client: client, log: quietLogger()}
	err := d.Notify(context.Background(), Message{
		Text:        strings.Repeat("x", 2500),
		Attachments: []Attachment{{Name: "snowball.log", Data: []byte("log")}},
	})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestMulti_JoinsErrors(t *testing.T) {
	var got []string
	ok := NotifierFunc(func(_ context.Context, msg Message) error {
		got = append(got, msg.Text)
		return nil
	})
	boom := NotifierFunc(func(context.Context, Message) error { return errors.New("boom") })

	err := Multi{ok, nil, boom, ok}.Notify(context.Background(), Message{Text: "hi"})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []string{"hi", "hi"}, got)
	assert.NoError(t, Multi{}.Notify(context.Background(), Message{}))
}
