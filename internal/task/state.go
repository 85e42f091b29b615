package task

import (
	"fmt"

	"github.com/video-stream/subtitler/internal/db/models"
)

// canTransition reports whether a task may move from one status to another.
// Staying in the same status is always allowed so progress and message can
// be updated. Error has no outgoing edges.
func canTransition(from, to models.Status) bool {
	if from == to {
		return true
	}
	switch from {
	case models.StatusUploaded:
		return to == models.StatusProcessing
	case models.StatusProcessing:
		return to == models.StatusUploaded || to == models.StatusCompleted || to == models.StatusError
	case models.StatusCompleted:
		return to == models.StatusProcessing
	}
	return false
}

func transitionError(id string, from, to models.Status) error {
	return fmt.Errorf("%w: task %s cannot move from %s to %s", ErrInvalidInput, id, from, to)
}

// Stage start preconditions.
var (
	DetectFrom    = []models.Status{models.StatusUploaded}
	TransformFrom = []models.Status{models.StatusUploaded, models.StatusCompleted}
)

func statusIn(s models.Status, allowed []models.Status) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}
