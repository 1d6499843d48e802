// ABOUTME: Resume pack: save, update toward a role, ATS-score, and render resumes.
// ABOUTME: Requires the "resume" capability. Resumes persist per caller in the store.

package builtins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/puch-mcp/internal/store"
	"github.com/2389/puch-mcp/internal/tools"
)

// defaultResumeName is used when the caller does not name a resume.
const defaultResumeName = "default"

// ResumePack creates the resume pack backed by a resume store.
func ResumePack(s store.ResumeStore) *tools.Pack {
	r := &resumeHandlers{store: s}
	return &tools.Pack{
		ID: "builtin:resume",
		Tools: []*tools.Tool{
			{
				Definition: &tools.Definition{
					Name:                 "resume_save",
					Description:          "Save a resume in markdown format",
					InputSchema:          json.RawMessage(`{"type":"object","properties":{"content":{"type":"string","description":"Resume content in markdown"},"name":{"type":"string","description":"Resume name, defaults to 'default'"},"target_role":{"type":"string","description":"Role this resume targets"}},"required":["content"]}`),
					RequiredCapabilities: []string{"resume"},
				},
				Handler: r.Save,
			},
			{
				Definition: &tools.Definition{
					Name:                 "resume_update",
					Description:          "Update a saved resume toward a target role by weaving in missing keywords",
					InputSchema:          json.RawMessage(`{"type":"object","properties":{"target_role":{"type":"string","description":"Role to tailor the resume toward"},"keywords":{"type":"array","items":{"type":"string"},"description":"Keywords to ensure the resume mentions"},"name":{"type":"string","description":"Resume name, defaults to 'default'"}},"required":["target_role"]}`),
					RequiredCapabilities: []string{"resume"},
				},
				Handler: r.Update,
			},
			{
				Definition: &tools.Definition{
					Name:                 "ats_score",
					Description:          "Score a saved resume against a job description the way an applicant tracking system would",
					InputSchema:          json.RawMessage(`{"type":"object","properties":{"job_description":{"type":"string","description":"Job description to score against"},"name":{"type":"string","description":"Resume name, defaults to 'default'"}},"required":["job_description"]}`),
					RequiredCapabilities: []string{"resume"},
				},
				Handler: r.Score,
			},
			{
				Definition: &tools.Definition{
					Name:                 "resume_list",
					Description:          "List your saved resumes",
					InputSchema:          json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
					RequiredCapabilities: []string{"resume"},
				},
				Handler: r.List,
			},
			{
				Definition: &tools.Definition{
					Name:                 "resume_delete",
					Description:          "Delete a saved resume",
					InputSchema:          json.RawMessage(`{"type":"object","properties":{"name":{"type":"string","description":"Resume name, defaults to 'default'"}},"required":[]}`),
					RequiredCapabilities: []string{"resume"},
				},
				Handler: r.Delete,
			},
			{
				Definition: &tools.Definition{
					Name:                 "resume_render",
					Description:          "Render a saved markdown resume as HTML",
					InputSchema:          json.RawMessage(`{"type":"object","properties":{"name":{"type":"string","description":"Resume name, defaults to 'default'"}},"required":[]}`),
					RequiredCapabilities: []string{"resume"},
				},
				Handler: r.Render,
			},
		},
	}
}

type resumeHandlers struct {
	store store.ResumeStore
}

type resumeSaveInput struct {
	Content    string `json:"content"`
	Name       string `json:"name"`
	TargetRole string `json:"target_role"`
}

func (r *resumeHandlers) Save(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
	var in resumeSaveInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tools.ErrInvalidInput, err)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", tools.ErrInvalidInput)
	}

	resume := &store.Resume{
		Owner:      caller,
		Name:       resumeName(in.Name),
		Content:    in.Content,
		TargetRole: in.TargetRole,
	}
	if err := r.store.SaveResume(ctx, resume); err != nil {
		return nil, err
	}

	return tools.JSONResult(map[string]string{"name": resume.Name, "status": "saved"})
}

type resumeUpdateInput struct {
	TargetRole string   `json:"target_role"`
	Keywords   []string `json:"keywords"`
	Name       string   `json:"name"`
}

func (r *resumeHandlers) Update(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
	var in resumeUpdateInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tools.ErrInvalidInput, err)
	}
	if strings.TrimSpace(in.TargetRole) == "" {
		return nil, fmt.Errorf("%w: target_role is required", tools.ErrInvalidInput)
	}

	resume, err := r.store.GetResume(ctx, caller, resumeName(in.Name))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return tools.ErrorResult("No saved resume found. Save one with resume_save first."), nil
		}
		return nil, err
	}

	updated, added := weaveKeywords(resume.Content, in.Keywords)
	resume.Content = updated
	resume.TargetRole = in.TargetRole
	if err := r.store.SaveResume(ctx, resume); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Resume %q now targets %q.\n", resume.Name, in.TargetRole)
	if len(added) > 0 {
		fmt.Fprintf(&b, "Added to skills: %s.\n", strings.Join(added, ", "))
	} else {
		b.WriteString("All requested keywords were already present.\n")
	}
	b.WriteString("\n")
	b.WriteString(resume.Content)
	return tools.TextResult(b.String()), nil
}

type atsScoreInput struct {
	JobDescription string `json:"job_description"`
	Name           string `json:"name"`
}

func (r *resumeHandlers) Score(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
	var in atsScoreInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tools.ErrInvalidInput, err)
	}
	if strings.TrimSpace(in.JobDescription) == "" {
		return nil, fmt.Errorf("%w: job_description is required", tools.ErrInvalidInput)
	}

	resume, err := r.store.GetResume(ctx, caller, resumeName(in.Name))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return tools.ErrorResult("No saved resume found. Save one with resume_save first."), nil
		}
		return nil, err
	}

	score, matched, missing := scoreResume(resume.Content, in.JobDescription)

	var b strings.Builder
	fmt.Fprintf(&b, "# ATS Score: %d/100\n\n", score)
	fmt.Fprintf(&b, "Matched %d of %d keywords from the job description.\n\n", len(matched), len(matched)+len(missing))
	if len(matched) > 0 {
		fmt.Fprintf(&b, "## Matched\n\n%s\n\n", strings.Join(matched, ", "))
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "## Missing\n\n%s\n\n", strings.Join(missing, ", "))
		b.WriteString("## Suggestions\n\n")
		b.WriteString("- Work the missing keywords into your experience bullets where they are true.\n")
		b.WriteString("- Mirror the job description's exact phrasing for tools and titles.\n")
		b.WriteString("- Use resume_update to add missing skills you actually have.\n")
	} else {
		b.WriteString("Your resume covers every keyword the description emphasizes.\n")
	}
	return tools.TextResult(b.String()), nil
}

func (r *resumeHandlers) List(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
	resumes, err := r.store.ListResumes(ctx, caller)
	if err != nil {
		return nil, err
	}
	if len(resumes) == 0 {
		return tools.TextResult("No saved resumes. Save one with resume_save first."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d saved resume(s):\n\n", len(resumes))
	for _, res := range resumes {
		fmt.Fprintf(&b, "- %s", res.Name)
		if res.TargetRole != "" {
			fmt.Fprintf(&b, " (targets %s)", res.TargetRole)
		}
		fmt.Fprintf(&b, ", updated %s\n", res.UpdatedAt.Format("2006-01-02"))
	}
	return tools.TextResult(b.String()), nil
}

type resumeDeleteInput struct {
	Name string `json:"name"`
}

func (r *resumeHandlers) Delete(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
	var in resumeDeleteInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", tools.ErrInvalidInput, err)
		}
	}

	name := resumeName(in.Name)
	if err := r.store.DeleteResume(ctx, caller, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return tools.ErrorResult("No saved resume found. Save one with resume_save first."), nil
		}
		return nil, err
	}
	return tools.Textf("Deleted resume %q.", name), nil
}

type resumeRenderInput struct {
	Name string `json:"name"`
}

func (r *resumeHandlers) Render(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
	var in resumeRenderInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", tools.ErrInvalidInput, err)
		}
	}

	resume, err := r.store.GetResume(ctx, caller, resumeName(in.Name))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return tools.ErrorResult("No saved resume found. Save one with resume_save first."), nil
		}
		return nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var body bytes.Buffer
	if err := md.Convert([]byte(resume.Content), &body); err != nil {
		return nil, fmt.Errorf("rendering resume: %w", err)
	}

	html := fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n%s</body>\n</html>\n",
		resume.Name, body.String())
	return tools.TextResult(html), nil
}

func resumeName(name string) string {
	if strings.TrimSpace(name) == "" {
		return defaultResumeName
	}
	return name
}

// weaveKeywords appends keywords the resume does not mention to its skills
// section, creating the section when absent. Returns the updated content and
// the keywords that were added.
func weaveKeywords(content string, keywords []string) (string, []string) {
	lower := strings.ToLower(content)
	var added []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(kw)) {
			added = append(added, kw)
		}
	}
	if len(added) == 0 {
		return content, nil
	}

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		heading := strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(heading, "#") && strings.Contains(heading, "skill") {
			// Insert after the heading, skipping the blank line below it
			insert := i + 1
			if insert < len(lines) && strings.TrimSpace(lines[insert]) == "" {
				insert++
			}
			var bullets []string
			for _, kw := range added {
				bullets = append(bullets, "- "+kw)
			}
			lines = append(lines[:insert], append(bullets, lines[insert:]...)...)
			return strings.Join(lines, "\n"), added
		}
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(content, "\n"))
	b.WriteString("\n\n## Skills\n\n")
	for _, kw := range added {
		b.WriteString("- " + kw + "\n")
	}
	return b.String(), added
}

// atsStopwords are common words that carry no signal for keyword matching.
var atsStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "you": true,
	"are": true, "will": true, "our": true, "your": true, "this": true,
	"that": true, "have": true, "has": true, "from": true, "who": true,
	"what": true, "can": true, "must": true, "all": true, "any": true,
	"job": true, "role": true, "work": true, "team": true, "years": true,
	"year": true, "plus": true, "strong": true, "ability": true,
	"experience": true, "required": true, "preferred": true, "including": true,
	"about": true, "more": true, "than": true, "such": true, "other": true,
	"into": true, "their": true, "them": true, "they": true, "were": true,
	"also": true, "being": true, "both": true, "each": true, "well": true,
}

// scoreResume computes keyword coverage of the resume against the job
// description. The score is the matched fraction on a 0 to 100 scale.
func scoreResume(resume, jobDescription string) (score int, matched, missing []string) {
	keywords := extractKeywords(jobDescription)
	if len(keywords) == 0 {
		return 0, nil, nil
	}

	resumeLower := strings.ToLower(resume)
	for _, kw := range keywords {
		if strings.Contains(resumeLower, kw) {
			matched = append(matched, kw)
		} else {
			missing = append(missing, kw)
		}
	}
	score = len(matched) * 100 / len(keywords)
	return score, matched, missing
}

// extractKeywords tokenizes a job description into distinct lowercase terms,
// dropping stopwords and short tokens.
func extractKeywords(text string) []string {
	seen := make(map[string]bool)
	var keywords []string
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '+' && r != '#'
	})
	for _, tok := range tokens {
		if len(tok) < 3 || atsStopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		keywords = append(keywords, tok)
	}
	sort.Strings(keywords)
	return keywords
}
