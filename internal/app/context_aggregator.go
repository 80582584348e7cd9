package app

import (
	"strings"

	"github.com/samber/lo"

	"insightchat/internal/analysis"
	"insightchat/internal/model"
)

const defaultRecentTurns = 5

// DatasetResolver resolves selected dataset ids to registry entries scoped to
// the owning project, preserving the requested order. Ids that no longer
// resolve (deleted datasets, malformed identifiers) are silently dropped.
type DatasetResolver func(ids []string) ([]model.Dataset, error)

// AggregateContext is a pure function over the chat's ordered message log.
// It computes the engine context for one dispatch:
//
//   - the deduplicated union of every dataset id ever selected in the chat,
//     in first-seen order, resolved against the registry. Once a dataset is
//     selected it stays in scope for every later turn.
//   - a bounded window of the last `window` turns. Assistant contents may be
//     serialized analysis results from earlier turns; they pass through
//     unmodified.
//   - one inline-upload entry per current-turn file that still carries raw
//     content.
func AggregateContext(messages []model.Message, currentFiles []model.Attachment, resolve DatasetResolver, window int) (analysis.Context, error) {
	if window <= 0 {
		window = defaultRecentTurns
	}

	selected := make([]string, 0, len(messages))
	for i := range messages {
		for _, id := range messages[i].DatasetIDs() {
			if id = strings.TrimSpace(id); id != "" {
				selected = append(selected, id)
			}
		}
	}

	datasets, err := resolve(lo.Uniq(selected))
	if err != nil {
		return analysis.Context{}, err
	}

	// A current-turn upload travels inline; its registered dataset entry is
	// skipped for this dispatch so the engine does not read the data twice.
	inline := make(map[uint]bool, len(currentFiles))
	for i := range currentFiles {
		if currentFiles[i].Retained() && currentFiles[i].DatasetID != 0 {
			inline[currentFiles[i].DatasetID] = true
		}
	}

	refs := make([]analysis.DatasetRef, 0, len(datasets)+len(currentFiles))
	for _, d := range datasets {
		if inline[d.ID] {
			continue
		}
		refs = append(refs, analysis.DatasetRef{Name: d.Name, URL: d.Location})
	}
	for i := range currentFiles {
		if currentFiles[i].Retained() {
			refs = append(refs, analysis.DatasetRef{
				Name: currentFiles[i].OriginalName,
				URL:  analysis.InlineUploadLocation,
			})
		}
	}

	recent := messages
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	turns := lo.Map(recent, func(m model.Message, _ int) analysis.Turn {
		role := model.RoleAssistant
		if m.Role == model.RoleUser {
			role = model.RoleUser
		}
		return analysis.Turn{Role: role, Content: m.Content}
	})

	return analysis.Context{Messages: turns, Datasets: refs}, nil
}
