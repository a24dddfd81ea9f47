package notification

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/instituteops/approvalflow/internal/application/port"
	"github.com/instituteops/approvalflow/internal/domain/request"
)

// LarkConfig holds Lark messaging configuration
type LarkConfig struct {
	AppID         string
	AppSecret     string
	ReceiveIDType string // chat_id, open_id or email
	ReceiveID     string
}

// LarkSink pushes transition messages to a Lark chat so approvers see
// requests land in their queue without polling a dashboard
type LarkSink struct {
	client        *lark.Client
	receiveIDType string
	receiveID     string
	logger        *zap.Logger
}

// NewLarkSink creates a new Lark notification sink
func NewLarkSink(cfg LarkConfig, logger *zap.Logger) *LarkSink {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)

	return &LarkSink{
		client:        client,
		receiveIDType: cfg.ReceiveIDType,
		receiveID:     cfg.ReceiveID,
		logger:        logger,
	}
}

// Notify sends a text message describing the transition
func (s *LarkSink) Notify(ctx context.Context, event port.TransitionEvent) error {
	content, err := json.Marshal(map[string]string{"text": formatMessage(event)})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(s.receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(s.receiveID).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := s.client.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		return fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	s.logger.Debug("Lark notification sent",
		zap.String("request_id", event.RequestID),
		zap.String("action", event.Action.String()))

	return nil
}

func formatMessage(event port.TransitionEvent) string {
	switch event.Action {
	case request.ActionCreated:
		return fmt.Sprintf("[%s] new request %s from %s, awaiting %s",
			event.Kind, event.RequestID, event.Actor, event.ToRole)
	case request.ActionForwarded:
		return fmt.Sprintf("[%s] request %s forwarded by %s, awaiting %s",
			event.Kind, event.RequestID, event.FromRole, event.ToRole)
	case request.ActionApproved:
		return fmt.Sprintf("[%s] request %s approved by %s",
			event.Kind, event.RequestID, event.FromRole)
	case request.ActionRejected:
		return fmt.Sprintf("[%s] request %s rejected by %s",
			event.Kind, event.RequestID, event.FromRole)
	case request.ActionCompleted:
		return fmt.Sprintf("[%s] request %s completed by %s",
			event.Kind, event.RequestID, event.Actor)
	default:
		return fmt.Sprintf("[%s] request %s: %s", event.Kind, event.RequestID, event.Action)
	}
}
