package queue

import "github.com/playdeck/playdeck/internal/domain/episode"

// DropIndex computes the Reorder target index for a drag-and-drop of
// draggedID onto targetID, evaluated against the given queue snapshot.
// When the dragged item originally precedes the drop target, the index
// is adjusted down by one because removing the dragged item shifts the
// indices after it. Returns -1 when either id is not in the queue.
func DropIndex(snapshot []episode.Episode, draggedID, targetID string) int {
	from, to := -1, -1
	for i := range snapshot {
		switch snapshot[i].ID {
		case draggedID:
			from = i
		case targetID:
			to = i
		}
	}
	if from < 0 || to < 0 {
		return -1
	}
	if from < to {
		return to - 1
	}
	return to
}
