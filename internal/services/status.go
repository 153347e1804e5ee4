package services

import (
	"context"
	"fmt"

	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
)

// StatusAuthority is the single writer of request statuses driven by inbound
// mail. Terminal protection lives in the repository's conditional update; the
// authority decides which transition a classification implies.
type StatusAuthority struct {
	requests repository.RequestRepository
}

func NewStatusAuthority(requests repository.RequestRepository) *StatusAuthority {
	return &StatusAuthority{requests: requests}
}

// ApplyClassification maps a classification onto the request's status:
//
//	BOUNCE        -> SEND_FAILED, read status "bounced"
//	GENUINE       -> REPLIED, read status "replied"
//	OUT_OF_OFFICE -> no change
//
// The read status marker is written unconditionally; the coarse status is
// guarded so COMPLETE and FULFILLED are never downgraded. Returns the status
// that should now be on the request and whether a transition was applied.
func (a *StatusAuthority) ApplyClassification(ctx context.Context, request *models.Request, classification models.Classification) (models.RequestStatus, bool, error) {
	var (
		target models.RequestStatus
		read   models.ReadStatus
	)
	switch classification {
	case models.ClassificationBounce:
		target = models.StatusSendFailed
		read = models.ReadStatusBounced
	case models.ClassificationGenuine:
		target = models.StatusReplied
		read = models.ReadStatusReplied
	case models.ClassificationOutOfOffice:
		return request.Status, false, nil
	default:
		return request.Status, false, fmt.Errorf("unknown classification %q", classification)
	}

	if err := a.requests.SetReadStatus(ctx, request.ID, read); err != nil {
		return request.Status, false, fmt.Errorf("set read status: %w", err)
	}

	if request.Status.IsTerminal() {
		return request.Status, false, nil
	}

	if err := a.requests.UpdateStatus(ctx, request.ID, target); err != nil {
		return request.Status, false, fmt.Errorf("update status: %w", err)
	}
	return target, true, nil
}
