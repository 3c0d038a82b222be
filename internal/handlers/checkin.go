package handlers

import (
	"context"
	"fmt"

	"github.com/yescateam/camp-desk-api/internal/audit"
	"github.com/yescateam/camp-desk-api/internal/auth"
	"github.com/yescateam/camp-desk-api/internal/checkin"
	"github.com/yescateam/camp-desk-api/internal/models"
	"go.uber.org/zap"
)

type CheckInHandler struct {
	sequencer   *checkin.Sequencer
	authHandler *auth.AuthHandler
	logger      *zap.Logger
}

func NewCheckInHandler(sequencer *checkin.Sequencer, authHandler *auth.AuthHandler, logger *zap.Logger) *CheckInHandler {
	return &CheckInHandler{sequencer: sequencer, authHandler: authHandler, logger: logger}
}

type PrintIDRequest struct {
	auth.AuthInput
	Body struct {
		RegistrationID    string `json:"registration_id,omitempty" doc:"Registration to print the ID card for"`
		CollectedFaithbox *bool  `json:"collected_faithbox,omitempty" doc:"Whether the faithbox was handed over; omit when it does not apply"`
	}
}

type PrintIDResponse struct {
	Body struct {
		Success        bool   `json:"success"`
		Message        string `json:"message"`
		GroupName      string `json:"group_name"`
		AttendedNumber int64  `json:"attended_number"`
		IsRegenerate   bool   `json:"is_regenerate"`
	}
}

func (h *CheckInHandler) HandlePrintID(ctx context.Context, input *PrintIDRequest) (*PrintIDResponse, error) {
	user, err := h.authHandler.Authorize(ctx, input.AuthInput, models.PermPrintIDCards)
	if err != nil {
		return nil, err
	}

	res, err := h.sequencer.Print(ctx, checkin.Request{
		RegistrationID: input.Body.RegistrationID,
		CollectedItem:  input.Body.CollectedFaithbox,
		Actor:          audit.Actor{Type: audit.ActorAdmin, ID: fmt.Sprintf("user:%d", user.ID)},
	})
	if err != nil {
		return nil, toHTTP(h.logger, err)
	}

	resp := &PrintIDResponse{}
	resp.Body.Success = true
	resp.Body.GroupName = res.GroupName
	resp.Body.AttendedNumber = res.AttendedNumber
	resp.Body.IsRegenerate = res.IsReprint
	if res.IsReprint {
		resp.Body.Message = "ID card re-generated successfully"
	} else {
		resp.Body.Message = "ID card generated successfully"
	}
	return resp, nil
}
