package internal

// EventType identifies the kind of a normalized event.
type EventType string

const (
	EventWorkflowRun EventType = "workflow_run"
	EventWorkflowJob EventType = "workflow_job"
	EventPullRequest EventType = "pull_request"
	// EventConnected is synthesized by the SSE gateway when a stream opens;
	// it never originates from a webhook delivery.
	EventConnected EventType = "connected"
)

// Event is the canonical envelope broadcast to stream subscribers. All three
// webhook shapes collapse into it; consumers dispatch on Type.
type Event struct {
	Type   EventType `json:"type"`
	Action string    `json:"action,omitempty"`

	// InstallationID is the GitHub App installation the event belongs to.
	// It is the sole partition key for subscriber delivery.
	InstallationID string `json:"installationId"`

	Repository         string `json:"repository,omitempty"`
	RepositoryFullName string `json:"repositoryFullName,omitempty"`
	Owner              string `json:"owner,omitempty"`

	Workflow   string `json:"workflow,omitempty"`
	JobName    string `json:"jobName,omitempty"`
	Status     string `json:"status,omitempty"`
	Conclusion string `json:"conclusion,omitempty"`

	Branch        string `json:"branch,omitempty"`
	CommitMessage string `json:"commitMessage,omitempty"`
	CommitSHA     string `json:"commitSha,omitempty"`
	URL           string `json:"url,omitempty"`
	RunNumber     int64  `json:"runNumber,omitempty"`

	PRNumber   int64  `json:"prNumber,omitempty"`
	PRTitle    string `json:"prTitle,omitempty"`
	PRState    string `json:"prState,omitempty"`
	PRDraft    bool   `json:"prDraft,omitempty"`
	PRMerged   bool   `json:"prMerged,omitempty"`
	BaseBranch string `json:"baseBranch,omitempty"`

	Timestamp string `json:"timestamp"`
}
