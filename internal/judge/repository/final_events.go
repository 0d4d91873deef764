package repository

import (
	"context"
	"encoding/json"
	"time"

	"classjudge/internal/common/mq"
	"classjudge/internal/judge/model"
	appErr "classjudge/pkg/errors"
)

// Headers set on every final status event so consumers can route without decoding the body.
const (
	HeaderStatus   = "x-judge-status"
	HeaderOutcome  = "x-judge-outcome"
	HeaderLanguage = "x-judge-language"
)

// FinalStatusPublisher announces submissions that reached Finished or Failed.
type FinalStatusPublisher interface {
	PublishFinalStatus(ctx context.Context, status model.JudgeStatusResponse) error
}

// QueuePublisher writes final status events to one topic, keyed by submission id.
type QueuePublisher struct {
	producer mq.Producer
	topic    string
}

func NewQueuePublisher(producer mq.Producer, topic string) *QueuePublisher {
	return &QueuePublisher{producer: producer, topic: topic}
}

func (p *QueuePublisher) PublishFinalStatus(ctx context.Context, status model.JudgeStatusResponse) error {
	switch {
	case status.SubmissionID == "":
		return appErr.ValidationError("submission_id", "required")
	case !status.Status.IsFinal():
		return appErr.Newf(appErr.InvalidParams, "status %s is not final", status.Status)
	case p == nil || p.producer == nil || p.topic == "":
		return appErr.New(appErr.ServiceUnavailable).WithMessage("final status topic is not configured")
	}

	body, err := json.Marshal(model.StatusEvent{
		Type:      model.StatusEventFinal,
		Status:    status,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode status event failed")
	}
	msg := mq.NewMessage(body)
	msg.ID = status.SubmissionID
	msg.SetHeader(HeaderStatus, string(status.Status))
	if status.Outcome != "" {
		msg.SetHeader(HeaderOutcome, string(status.Outcome))
	}
	if status.Language != "" {
		msg.SetHeader(HeaderLanguage, status.Language)
	}
	if err := p.producer.Publish(ctx, p.topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish status event failed").WithDetail("topic", p.topic)
	}
	return nil
}
