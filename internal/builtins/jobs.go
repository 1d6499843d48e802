// ABOUTME: Jobs pack provides the job_finder tool: analyze, fetch, or search.
// ABOUTME: Requires the "jobs" capability.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/puch-mcp/internal/fetch"
	"github.com/2389/puch-mcp/internal/tools"
)

// Fetcher is the subset of the fetch client the jobs pack needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string, forceRaw bool) (*fetch.Result, error)
	Search(ctx context.Context, query string) ([]string, error)
}

// JobsPack creates the jobs pack backed by a web fetcher.
func JobsPack(fetcher Fetcher) *tools.Pack {
	j := &jobsHandlers{fetcher: fetcher}
	return &tools.Pack{
		ID: "builtin:jobs",
		Tools: []*tools.Tool{
			{
				Definition: &tools.Definition{
					Name:                 "job_finder",
					Description:          "Analyze a job description, fetch a job posting URL, or search for job listings based on the user's goal",
					InputSchema:          json.RawMessage(`{"type":"object","properties":{"user_goal":{"type":"string","description":"What the user wants from this job search"},"job_description":{"type":"string","description":"Full job description text to analyze"},"job_url":{"type":"string","description":"URL of a job posting to fetch"},"raw":{"type":"boolean","description":"Return raw page content without simplification"}},"required":["user_goal"]}`),
					RequiredCapabilities: []string{"jobs"},
					TimeoutSeconds:       60,
				},
				Handler: j.Find,
			},
		},
	}
}

type jobsHandlers struct {
	fetcher Fetcher
}

type jobFinderInput struct {
	UserGoal       string `json:"user_goal"`
	JobDescription string `json:"job_description"`
	JobURL         string `json:"job_url"`
	Raw            bool   `json:"raw"`
}

func (j *jobsHandlers) Find(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
	var in jobFinderInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tools.ErrInvalidInput, err)
	}

	switch {
	case strings.TrimSpace(in.JobDescription) != "":
		return tools.TextResult(analyzeDescription(in.UserGoal, in.JobDescription)), nil

	case strings.TrimSpace(in.JobURL) != "":
		result, err := j.fetcher.Fetch(ctx, in.JobURL, in.Raw)
		if err != nil {
			return nil, err
		}
		return tools.Textf("Fetched content from %s:\n\n%s", in.JobURL, result.Content), nil

	case looksLikeSearch(in.UserGoal):
		links, err := j.fetcher.Search(ctx, in.UserGoal)
		if err != nil {
			return nil, err
		}
		if len(links) == 0 {
			return tools.Textf("No search results found for: %s", in.UserGoal), nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Search results for %q:\n", in.UserGoal)
		for _, link := range links {
			fmt.Fprintf(&b, "- %s\n", link)
		}
		return tools.TextResult(b.String()), nil

	default:
		return nil, fmt.Errorf("%w: provide a job_description, a job_url, or a search-style goal", tools.ErrInvalidInput)
	}
}

// looksLikeSearch decides whether a freeform goal is a search request.
func looksLikeSearch(goal string) bool {
	lower := strings.ToLower(goal)
	for _, marker := range []string{"find", "search", "look for", "discover", "browse"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// requirementMarkers flag lines that state what a role demands.
var requirementMarkers = []string{
	"require", "must", "experience", "proficien", "familiar",
	"knowledge", "degree", "years", "skill", "responsib",
}

// analyzeDescription produces a structured reading of a pasted job
// description against the user's stated goal.
func analyzeDescription(goal, description string) string {
	var requirements []string
	for _, line := range strings.Split(description, "\n") {
		trimmed := strings.TrimSpace(strings.TrimLeft(line, "-*• \t"))
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		for _, marker := range requirementMarkers {
			if strings.Contains(lower, marker) {
				requirements = append(requirements, trimmed)
				break
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Job Description Analysis\n\n")
	fmt.Fprintf(&b, "**Your goal:** %s\n\n", goal)

	if len(requirements) > 0 {
		b.WriteString("## Key requirements\n\n")
		for _, req := range requirements {
			fmt.Fprintf(&b, "- %s\n", req)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Full description\n\n")
	b.WriteString(strings.TrimSpace(description))
	b.WriteString("\n\n## Next steps\n\n")
	b.WriteString("- Compare the requirements above against your resume and close any gaps.\n")
	b.WriteString("- Use ats_score with this description to measure keyword coverage.\n")
	return b.String()
}
