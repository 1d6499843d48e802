// ABOUTME: Tests for the jobs pack dispatch logic.
// ABOUTME: Uses a fake fetcher to cover all job_finder branches.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/puch-mcp/internal/fetch"
	"github.com/2389/puch-mcp/internal/tools"
)

type fakeFetcher struct {
	fetchResult *fetch.Result
	fetchErr    error
	searchLinks []string
	searchErr   error

	lastURL   string
	lastRaw   bool
	lastQuery string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, forceRaw bool) (*fetch.Result, error) {
	f.lastURL = url
	f.lastRaw = forceRaw
	return f.fetchResult, f.fetchErr
}

func (f *fakeFetcher) Search(ctx context.Context, query string) ([]string, error) {
	f.lastQuery = query
	return f.searchLinks, f.searchErr
}

func callJobFinder(t *testing.T, f Fetcher, input map[string]any) (*tools.Result, error) {
	t.Helper()
	pack := JobsPack(f)
	require.Len(t, pack.Tools, 1)
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	return pack.Tools[0].Handler(context.Background(), "service", raw)
}

func TestJobFinder_AnalyzesDescription(t *testing.T) {
	result, err := callJobFinder(t, &fakeFetcher{}, map[string]any{
		"user_goal":       "land a backend role",
		"job_description": "We require 5 years of Go experience.\nMust know PostgreSQL.",
	})
	require.NoError(t, err)

	text := result.Content[0].Text
	assert.Contains(t, text, "land a backend role")
	assert.Contains(t, text, "We require 5 years of Go experience.")
	assert.Contains(t, text, "Key requirements")
}

func TestJobFinder_FetchesURL(t *testing.T) {
	f := &fakeFetcher{fetchResult: &fetch.Result{Content: "# Go Engineer\n\nGreat job."}}
	result, err := callJobFinder(t, f, map[string]any{
		"user_goal": "evaluate this posting",
		"job_url":   "https://jobs.example.com/1",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://jobs.example.com/1", f.lastURL)
	assert.False(t, f.lastRaw)
	assert.Contains(t, result.Content[0].Text, "Great job.")
}

func TestJobFinder_FetchRawFlag(t *testing.T) {
	f := &fakeFetcher{fetchResult: &fetch.Result{Content: "<html>", Raw: true}}
	_, err := callJobFinder(t, f, map[string]any{
		"user_goal": "evaluate",
		"job_url":   "https://jobs.example.com/1",
		"raw":       true,
	})
	require.NoError(t, err)
	assert.True(t, f.lastRaw)
}

func TestJobFinder_FetchErrorPropagates(t *testing.T) {
	f := &fakeFetcher{fetchErr: errors.New("status code 404")}
	_, err := callJobFinder(t, f, map[string]any{
		"user_goal": "evaluate",
		"job_url":   "https://jobs.example.com/missing",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestJobFinder_SearchesForGoal(t *testing.T) {
	f := &fakeFetcher{searchLinks: []string{"https://a.example.com", "https://b.example.com"}}
	result, err := callJobFinder(t, f, map[string]any{
		"user_goal": "find remote golang jobs",
	})
	require.NoError(t, err)

	assert.Equal(t, "find remote golang jobs", f.lastQuery)
	text := result.Content[0].Text
	assert.Contains(t, text, "https://a.example.com")
	assert.Contains(t, text, "https://b.example.com")
}

func TestJobFinder_SearchNoResults(t *testing.T) {
	result, err := callJobFinder(t, &fakeFetcher{}, map[string]any{
		"user_goal": "search for unicorn wrangler roles",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Content[0].Text, "No search results")
}

func TestJobFinder_NoUsableInput(t *testing.T) {
	_, err := callJobFinder(t, &fakeFetcher{}, map[string]any{
		"user_goal": "I want a better job",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrInvalidInput))
}

func TestLooksLikeSearch(t *testing.T) {
	cases := []struct {
		goal string
		want bool
	}{
		{"find me golang jobs", true},
		{"Search for backend roles", true},
		{"please look for startups", true},
		{"I want a better job", false},
		{"", false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%q", tc.goal), func(t *testing.T) {
			assert.Equal(t, tc.want, looksLikeSearch(tc.goal))
		})
	}
}
