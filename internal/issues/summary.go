package issues

import (
	"context"
	"sort"

	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/models"
)

// Action is the remedy suggested for an issue type.
func Action(t models.IssueType) string {
	switch t {
	case models.IssueNotFound:
		return "Remove product"
	case models.IssueNameMismatch:
		return "Deactivate URL"
	case models.IssueScrapeError:
		return "Check selectors"
	case models.IssueAntiBot:
		return "Retry with stealth"
	}
	return "Investigate"
}

// Critical issue types are the ones AutoHandle acts on.
func Critical(t models.IssueType) bool {
	return t == models.IssueNotFound || t == models.IssueNameMismatch
}

type Group struct {
	Type     models.IssueType      `json:"issue_type"`
	Action   string                `json:"action"`
	Critical bool                  `json:"critical"`
	Count    int                   `json:"count"`
	Issues   []models.ProductIssue `json:"issues"`
}

type Summary struct {
	Total    int     `json:"total"`
	Critical int     `json:"critical"`
	Groups   []Group `json:"groups"`
}

var typeOrder = []models.IssueType{
	models.IssueNotFound,
	models.IssueNameMismatch,
	models.IssueAntiBot,
	models.IssueScrapeError,
}

// Summary groups unresolved issues by type, critical types first.
func (t *Tracker) Summary(ctx context.Context) (*Summary, error) {
	resolved := false
	open, err := t.db.ListIssues(ctx, database.IssueFilter{Resolved: &resolved})
	if err != nil {
		return nil, err
	}

	byType := make(map[models.IssueType][]models.ProductIssue)
	for _, issue := range open {
		byType[issue.IssueType] = append(byType[issue.IssueType], issue)
	}

	s := &Summary{Total: len(open)}
	for _, typ := range typeOrder {
		issues := byType[typ]
		if len(issues) == 0 {
			continue
		}
		sort.SliceStable(issues, func(i, j int) bool { return issues[i].ProductID < issues[j].ProductID })

		g := Group{
			Type:     typ,
			Action:   Action(typ),
			Critical: Critical(typ),
			Count:    len(issues),
			Issues:   issues,
		}
		if g.Critical {
			s.Critical += g.Count
		}
		s.Groups = append(s.Groups, g)
	}

	return s, nil
}
