package internal

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const workflowRunJSON = `{
	"action": "completed",
	"workflow_run": {
		"name": "CI",
		"head_branch": "main",
		"head_sha": "abc123",
		"run_number": 42,
		"status": "completed",
		"conclusion": "success",
		"html_url": "https://github.com/octo/demo/actions/runs/1",
		"updated_at": "2025-03-01T11:59:00Z",
		"head_commit": {"message": "fix build"}
	},
	"repository": {
		"name": "demo",
		"full_name": "octo/demo",
		"owner": {"login": "octo"}
	},
	"installation": {"id": 123}
}`

// TestNormalizeWorkflowRun tests mapping of a complete workflow_run payload.
func TestNormalizeWorkflowRun(t *testing.T) {
	event, err := Normalize("workflow_run", []byte(workflowRunJSON), testNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if event.Type != EventWorkflowRun {
		t.Fatalf("expected workflow_run type, got %q", event.Type)
	}
	if event.Action != "completed" {
		t.Fatalf("expected action completed, got %q", event.Action)
	}
	if event.InstallationID != "123" {
		t.Fatalf("expected installation id coerced to string 123, got %q", event.InstallationID)
	}
	if event.Status != "completed" || event.Conclusion != "success" {
		t.Fatalf("expected status/conclusion copied, got %q/%q", event.Status, event.Conclusion)
	}
	if event.Workflow != "CI" || event.Branch != "main" || event.RunNumber != 42 {
		t.Fatalf("unexpected run fields: %+v", event)
	}
	if event.CommitMessage != "fix build" {
		t.Fatalf("expected head_commit message, got %q", event.CommitMessage)
	}
	if event.RepositoryFullName != "octo/demo" || event.Owner != "octo" {
		t.Fatalf("unexpected repository fields: %+v", event)
	}
	if event.Timestamp != "2025-03-01T11:59:00Z" {
		t.Fatalf("expected payload timestamp, got %q", event.Timestamp)
	}
}

// TestNormalizeWorkflowJob tests mapping of a workflow_job payload.
func TestNormalizeWorkflowJob(t *testing.T) {
	payload := `{
		"action": "in_progress",
		"workflow_job": {
			"name": "build",
			"workflow_name": "CI",
			"head_branch": "main",
			"head_sha": "abc123",
			"run_id": 7,
			"status": "in_progress",
			"started_at": "2025-03-01T11:58:00Z",
			"html_url": "https://github.com/octo/demo/runs/7"
		},
		"repository": {"name": "demo", "full_name": "octo/demo"},
		"installation": {"id": 456}
	}`

	event, err := Normalize("workflow_job", []byte(payload), testNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.Type != EventWorkflowJob {
		t.Fatalf("expected workflow_job type, got %q", event.Type)
	}
	if event.InstallationID != "456" {
		t.Fatalf("expected installation id 456, got %q", event.InstallationID)
	}
	if event.JobName != "build" || event.Workflow != "CI" {
		t.Fatalf("unexpected job fields: %+v", event)
	}
	if event.Timestamp != "2025-03-01T11:58:00Z" {
		t.Fatalf("expected started_at fallback, got %q", event.Timestamp)
	}
	if event.Owner != "" {
		t.Fatalf("expected empty owner for payload without owner, got %q", event.Owner)
	}
}

// TestNormalizePullRequest tests mapping of a pull_request payload.
func TestNormalizePullRequest(t *testing.T) {
	payload := `{
		"action": "opened",
		"number": 9,
		"pull_request": {
			"title": "Add feature",
			"state": "open",
			"draft": true,
			"merged": false,
			"html_url": "https://github.com/octo/demo/pull/9",
			"updated_at": "2025-03-01T10:00:00Z",
			"head": {"ref": "feature", "sha": "def456"},
			"base": {"ref": "main"}
		},
		"repository": {"name": "demo", "full_name": "octo/demo", "owner": {"login": "octo"}},
		"installation": {"id": 123}
	}`

	event, err := Normalize("pull_request", []byte(payload), testNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.Type != EventPullRequest {
		t.Fatalf("expected pull_request type, got %q", event.Type)
	}
	if event.PRNumber != 9 || event.PRTitle != "Add feature" || !event.PRDraft || event.PRMerged {
		t.Fatalf("unexpected pr fields: %+v", event)
	}
	if event.Branch != "feature" || event.BaseBranch != "main" {
		t.Fatalf("unexpected branch fields: %+v", event)
	}
}

// TestNormalizeMissingOptionalFields tests that absent optional sub-objects
// default to empty values instead of failing.
func TestNormalizeMissingOptionalFields(t *testing.T) {
	payload := `{
		"action": "requested",
		"repository": {"name": "demo", "full_name": "octo/demo"},
		"installation": {"id": 1}
	}`

	event, err := Normalize("workflow_run", []byte(payload), testNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.Workflow != "" || event.CommitMessage != "" {
		t.Fatalf("expected empty defaults, got %+v", event)
	}
	if event.Timestamp != testNow.Format(time.RFC3339) {
		t.Fatalf("expected receipt-time timestamp, got %q", event.Timestamp)
	}
}

// TestNormalizeMissingRequiredObjects tests that absent repository or
// installation fail normalization.
func TestNormalizeMissingRequiredObjects(t *testing.T) {
	noInstallation := `{"action": "completed", "repository": {"name": "demo"}}`
	if _, err := Normalize("workflow_run", []byte(noInstallation), testNow); err == nil {
		t.Fatalf("expected error for missing installation")
	}

	noRepository := `{"action": "completed", "installation": {"id": 1}}`
	if _, err := Normalize("workflow_job", []byte(noRepository), testNow); err == nil {
		t.Fatalf("expected error for missing repository")
	}
}

// TestNormalizeSkipSentinels tests the ping and unsupported dispositions.
func TestNormalizeSkipSentinels(t *testing.T) {
	if _, err := Normalize("ping", []byte(`{"zen": "Design for failure."}`), testNow); !errors.Is(err, ErrSkipPing) {
		t.Fatalf("expected ErrSkipPing, got %v", err)
	}
	if _, err := Normalize("issues", []byte(`{}`), testNow); !errors.Is(err, ErrSkipUnsupported) {
		t.Fatalf("expected ErrSkipUnsupported, got %v", err)
	}
}

// TestNormalizeInvalidJSON tests that malformed payloads fail cleanly.
func TestNormalizeInvalidJSON(t *testing.T) {
	if _, err := Normalize("workflow_run", []byte(`{`), testNow); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}
