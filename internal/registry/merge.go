package registry

import "github.com/raphaelgruber/hydra-inbox/internal/models"

// apply overlays u onto item under the state machine rules:
//
//   - terminal items keep status, progress, step and error; result fields
//     may still land (the post-completion fetch)
//   - status moves forward in pipeline order or to failed; a backward status
//     is dropped along with its step
//   - progress is clamped to 0..100 and never decreases
//
// The progress channel carries no sequence numbers, so everything else is
// last write wins per field.
func apply(item *models.Item, u models.Update) {
	if !item.IsTerminal() {
		applyState(item, u)
	}
	applyResult(item, u)
}

func applyState(item *models.Item, u models.Update) {
	if u.Status != nil && *u.Status != item.Status {
		if models.CanTransition(item.Status, *u.Status) {
			item.Status = *u.Status
			item.CurrentStep = string(*u.Status)
			if u.CurrentStep != nil && *u.CurrentStep != "" {
				item.CurrentStep = *u.CurrentStep
			}
		}
	} else if u.CurrentStep != nil && *u.CurrentStep != "" {
		item.CurrentStep = *u.CurrentStep
	}

	switch item.Status {
	case models.StatusCompleted:
		item.Progress = 100
	case models.StatusFailed:
		if u.Error != nil {
			item.Error = *u.Error
		}
	default:
		if u.Progress != nil {
			if p := clampProgress(*u.Progress); p > item.Progress {
				item.Progress = p
			}
		}
	}
}

func applyResult(item *models.Item, u models.Update) {
	if u.ContentType != nil {
		item.ContentType = *u.ContentType
	}
	overlay(&item.Title, u.Title)
	overlay(&item.Filename, u.Filename)
	overlay(&item.URL, u.URL)
	overlay(&item.Summary, u.Summary)
	overlay(&item.RelevanceToHydra, u.RelevanceToHydra)
	if u.KeyInsights != nil {
		item.KeyInsights = append([]string(nil), u.KeyInsights...)
	}
	if u.ActionItems != nil {
		item.ActionItems = append([]string(nil), u.ActionItems...)
	}
	if u.Tags != nil {
		item.Tags = append([]string(nil), u.Tags...)
	}
}

func overlay(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func clampProgress(p int) int {
	return min(max(p, 0), 100)
}
