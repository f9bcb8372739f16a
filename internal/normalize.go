package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Skip sentinels returned by Normalize for deliveries that are acknowledged
// but never broadcast. They are dispositions, not failures.
var (
	ErrSkipPing        = errors.New("ping event")
	ErrSkipUnsupported = errors.New("unsupported event type")
)

type repositoryRef struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    *struct {
		Login string `json:"login"`
	} `json:"owner"`
}

type installationRef struct {
	ID int64 `json:"id"`
}

type workflowRunPayload struct {
	Action      string `json:"action"`
	WorkflowRun *struct {
		Name       string `json:"name"`
		HeadBranch string `json:"head_branch"`
		HeadSHA    string `json:"head_sha"`
		RunNumber  int64  `json:"run_number"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
		HTMLURL    string `json:"html_url"`
		UpdatedAt  string `json:"updated_at"`
		HeadCommit *struct {
			Message string `json:"message"`
		} `json:"head_commit"`
	} `json:"workflow_run"`
	Repository   *repositoryRef   `json:"repository"`
	Installation *installationRef `json:"installation"`
}

type workflowJobPayload struct {
	Action      string `json:"action"`
	WorkflowJob *struct {
		Name         string `json:"name"`
		WorkflowName string `json:"workflow_name"`
		HeadBranch   string `json:"head_branch"`
		HeadSHA      string `json:"head_sha"`
		RunID        int64  `json:"run_id"`
		Status       string `json:"status"`
		Conclusion   string `json:"conclusion"`
		HTMLURL      string `json:"html_url"`
		StartedAt    string `json:"started_at"`
		CompletedAt  string `json:"completed_at"`
	} `json:"workflow_job"`
	Repository   *repositoryRef   `json:"repository"`
	Installation *installationRef `json:"installation"`
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	Number      int64  `json:"number"`
	PullRequest *struct {
		Title     string `json:"title"`
		State     string `json:"state"`
		Draft     bool   `json:"draft"`
		Merged    bool   `json:"merged"`
		HTMLURL   string `json:"html_url"`
		UpdatedAt string `json:"updated_at"`
		Head      *struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
		Base *struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository   *repositoryRef   `json:"repository"`
	Installation *installationRef `json:"installation"`
}

// Normalize maps a raw GitHub webhook delivery into the canonical Event
// envelope. The kind argument is the X-GitHub-Event header value. Ping and
// unrecognized kinds return ErrSkipPing / ErrSkipUnsupported; any other error
// means the payload is structurally unusable and the delivery should be
// rejected.
func Normalize(kind string, payload []byte, now time.Time) (Event, error) {
	switch kind {
	case "workflow_run":
		return normalizeWorkflowRun(payload, now)
	case "workflow_job":
		return normalizeWorkflowJob(payload, now)
	case "pull_request":
		return normalizePullRequest(payload, now)
	case "ping":
		return Event{}, ErrSkipPing
	default:
		return Event{}, ErrSkipUnsupported
	}
}

func normalizeWorkflowRun(payload []byte, now time.Time) (Event, error) {
	var raw workflowRunPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, fmt.Errorf("workflow_run payload: %w", err)
	}
	repo, owner, installation, err := requiredRefs("workflow_run", raw.Repository, raw.Installation)
	if err != nil {
		return Event{}, err
	}

	event := Event{
		Type:               EventWorkflowRun,
		Action:             raw.Action,
		InstallationID:     installation,
		Repository:         repo.Name,
		RepositoryFullName: repo.FullName,
		Owner:              owner,
		Timestamp:          timestampOr(now, ""),
	}
	if run := raw.WorkflowRun; run != nil {
		event.Workflow = run.Name
		event.Status = run.Status
		event.Conclusion = run.Conclusion
		event.Branch = run.HeadBranch
		event.CommitSHA = run.HeadSHA
		event.URL = run.HTMLURL
		event.RunNumber = run.RunNumber
		if run.HeadCommit != nil {
			event.CommitMessage = run.HeadCommit.Message
		}
		event.Timestamp = timestampOr(now, run.UpdatedAt)
	}
	return event, nil
}

func normalizeWorkflowJob(payload []byte, now time.Time) (Event, error) {
	var raw workflowJobPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, fmt.Errorf("workflow_job payload: %w", err)
	}
	repo, owner, installation, err := requiredRefs("workflow_job", raw.Repository, raw.Installation)
	if err != nil {
		return Event{}, err
	}

	event := Event{
		Type:               EventWorkflowJob,
		Action:             raw.Action,
		InstallationID:     installation,
		Repository:         repo.Name,
		RepositoryFullName: repo.FullName,
		Owner:              owner,
		Timestamp:          timestampOr(now, ""),
	}
	if job := raw.WorkflowJob; job != nil {
		event.JobName = job.Name
		event.Workflow = job.WorkflowName
		event.Status = job.Status
		event.Conclusion = job.Conclusion
		event.Branch = job.HeadBranch
		event.CommitSHA = job.HeadSHA
		event.URL = job.HTMLURL
		event.RunNumber = job.RunID
		stamp := job.CompletedAt
		if stamp == "" {
			stamp = job.StartedAt
		}
		event.Timestamp = timestampOr(now, stamp)
	}
	return event, nil
}

func normalizePullRequest(payload []byte, now time.Time) (Event, error) {
	var raw pullRequestPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, fmt.Errorf("pull_request payload: %w", err)
	}
	repo, owner, installation, err := requiredRefs("pull_request", raw.Repository, raw.Installation)
	if err != nil {
		return Event{}, err
	}

	event := Event{
		Type:               EventPullRequest,
		Action:             raw.Action,
		InstallationID:     installation,
		Repository:         repo.Name,
		RepositoryFullName: repo.FullName,
		Owner:              owner,
		PRNumber:           raw.Number,
		Timestamp:          timestampOr(now, ""),
	}
	if pr := raw.PullRequest; pr != nil {
		event.PRTitle = pr.Title
		event.PRState = pr.State
		event.PRDraft = pr.Draft
		event.PRMerged = pr.Merged
		event.URL = pr.HTMLURL
		if pr.Head != nil {
			event.Branch = pr.Head.Ref
			event.CommitSHA = pr.Head.SHA
		}
		if pr.Base != nil {
			event.BaseBranch = pr.Base.Ref
		}
		event.Timestamp = timestampOr(now, pr.UpdatedAt)
	}
	return event, nil
}

func requiredRefs(kind string, repo *repositoryRef, installation *installationRef) (*repositoryRef, string, string, error) {
	if repo == nil {
		return nil, "", "", fmt.Errorf("%s payload missing repository", kind)
	}
	if installation == nil || installation.ID == 0 {
		return nil, "", "", fmt.Errorf("%s payload missing installation", kind)
	}
	owner := ""
	if repo.Owner != nil {
		owner = repo.Owner.Login
	}
	return repo, owner, strconv.FormatInt(installation.ID, 10), nil
}

func timestampOr(now time.Time, stamp string) string {
	if stamp != "" {
		return stamp
	}
	return now.UTC().Format(time.RFC3339)
}
