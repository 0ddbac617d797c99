package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"snowballrss/internal/domain"
)

const DefaultHTTPTimeout = 30 * time.Second

// QQOptions configures the QQ channel. Endpoint is the HTTP API of a OneBot
// v11 implementation such as go-cqhttp.
type QQOptions struct {
	Endpoint    string
	AccessToken string
	GroupID     int64
	AdminID     int64
	HTTPClient  *http.Client
}

// QQ posts to a group through a OneBot HTTP endpoint.
type QQ struct {
	opts   QQOptions
	client *http.Client
	log    logrus.FieldLogger
}

// NewQQ creates a QQ channel.
func NewQQ(opts QQOptions, logger logrus.FieldLogger) *QQ {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	return &QQ{
		opts:   opts,
		client: client,
		log:    logger.WithField("component", "qq"),
	}
}

func (q *QQ) Name() string { return "qq" }

// QQText is the group message announcing a post. Post text is left out;
// group bots sending long text get muted.
func QQText(post domain.Post) string {
	return post.Author + "发布了一条新消息\n" + post.Link + "\n截图发送中"
}

func (q *QQ) Send(ctx context.Context, post domain.Post, screenshot []byte) error {
	log := q.log.WithFields(logrus.Fields{"link": post.Link, "group_id": q.opts.GroupID})

	if err := q.call(ctx, "send_group_msg", groupMsg{GroupID: q.opts.GroupID, Message: QQText(post), AutoEscape: true}); err != nil {
		log.WithError(err).Error("Failed to send qq group message")
		return err
	}
	if len(screenshot) > 0 {
		if err := q.call(ctx, "send_group_msg", groupMsg{GroupID: q.opts.GroupID, Message: imageSegment(screenshot)}); err != nil {
			log.WithError(err).Error("Failed to send qq screenshot")
			return err
		}
	}
	log.Info("QQ message sent")
	return nil
}

// Notify messages the admin account privately. Attachments are not
// supported by private messages and are dropped.
func (q *QQ) Notify(ctx context.Context, msg Message) error {
	if q.opts.AdminID == 0 {
		return fmt.Errorf("qq: no admin account: %w", ErrNotConfigured)
	}
	return q.call(ctx, "send_private_msg", privateMsg{UserID: q.opts.AdminID, Message: msg.Text, AutoEscape: true})
}

type groupMsg struct {
	GroupID    int64  `json:"group_id"`
	Message    string `json:"message"`
	AutoEscape bool   `json:"auto_escape"`
}

type privateMsg struct {
	UserID     int64  `json:"user_id"`
	Message    string `json:"message"`
	AutoEscape bool   `json:"auto_escape"`
}

type oneBotResponse struct {
	Status  string `json:"status"`
	RetCode int    `json:"retcode"`
	Message string `json:"message"`
	Wording string `json:"wording"`
}

func imageSegment(img []byte) string {
	return "[CQ:image,file=base64://" + base64.StdEncoding.EncodeToString(img) + "]"
}

func (q *QQ) call(ctx context.Context, action string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.opts.Endpoint+"/"+action, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.opts.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+q.opts.AccessToken)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s failed: http status %d", action, resp.StatusCode)
	}
	var r oneBotResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", action, err)
	}
	if r.RetCode != 0 || (r.Status != "ok" && r.Status != "async") {
		reason := r.Wording
		if reason == "" {
			reason = r.Message
		}
		return fmt.Errorf("%s rejected: status %s retcode %d %s", action, r.Status, r.RetCode, reason)
	}
	return nil
}
