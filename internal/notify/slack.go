package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/slack-go/slack"
)

var severityColor = map[models.AlertSeverity]string{
	models.SeverityInfo:     "#439FE0",
	models.SeverityWarning:  "warning",
	models.SeverityCritical: "danger",
}

// Slack posts alerts to one channel. Non-alert events are skipped.
type Slack struct {
	api     *slack.Client
	channel string
}

func NewSlack(token, channel string, opts ...slack.Option) *Slack {
	return &Slack{api: slack.New(token, opts...), channel: channel}
}

func (s *Slack) Name() string { return "slack:" + s.channel }

func (s *Slack) Send(ctx context.Context, n Notification) error {
	if n.Alert == nil {
		return nil
	}
	a := n.Alert

	fields := []slack.AttachmentField{
		{Title: "Severity", Value: string(a.Severity), Short: true},
		{Title: "Type", Value: a.Type, Short: true},
	}
	if a.EntityID != "" {
		fields = append(fields, slack.AttachmentField{Title: "Entity", Value: a.EntityID, Short: true})
	}

	_, _, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(fmt.Sprintf("*%s*", a.Title), false),
		slack.MsgOptionAttachments(slack.Attachment{
			Color:  severityColor[a.Severity],
			Text:   a.Message,
			Fields: fields,
			Footer: "alert " + a.ID,
			Ts:     json.Number(strconv.FormatInt(a.CreatedAt.Unix(), 10)),
		}),
	)
	if err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	return nil
}
