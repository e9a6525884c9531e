package controller

import (
	"livecode/internal/monitor/service"
	"livecode/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// BroadcastController exposes the broadcast trigger over HTTP.
type BroadcastController struct {
	trigger   *service.Trigger
	publisher service.BroadcastPublisher
}

// NewBroadcastController creates a controller. With a publisher the request
// is fanned out to every instance through the queue; without one only this
// instance's room is refreshed.
func NewBroadcastController(trigger *service.Trigger, publisher service.BroadcastPublisher) *BroadcastController {
	return &BroadcastController{trigger: trigger, publisher: publisher}
}

// Broadcast handles POST /tests/:testId/broadcast.
func (h *BroadcastController) Broadcast(c *gin.Context) {
	testID := c.Param("testId")
	if testID == "" {
		response.BadRequest(c, "testId is required")
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishBroadcast(c.Request.Context(), testID); err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, "broadcast queued", gin.H{"testId": testID})
		return
	}

	observers, err := h.trigger.Broadcast(c.Request.Context(), testID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"testId": testID, "observers": observers})
}
