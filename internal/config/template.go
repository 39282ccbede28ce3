package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ProjectTemplate is written by `ticketflow config init`.
const ProjectTemplate = `# ticketflow project configuration.
# Credentials usually live in the global file or JIRA_* environment variables.
# Keys left out here keep their global value.

project:
  # name: my-service
  # Extra instructions appended to every agent prompt.
  # instructions: |
  #   Run make lint before committing.

jira:
  # base_url: https://example.atlassian.net
  project_key: PROJ
  candidate_statuses:
    - "To Do"
  # jql: 'project = PROJ AND labels = ai-ready ORDER BY priority DESC, created ASC'
  # transition_to: "In Review"

git:
  base_branch: develop
  branch_pattern: "feature/{ticket_key}-{summary}"

github:
  wait_for_preview: false
  preview_timeout_seconds: 600

agent:
  command: claude
  args: ["--print", "--dangerously-skip-permissions"]
  timeout_minutes: 30

daemon:
  poll_interval_seconds: 300
`

// WriteTemplate writes ProjectTemplate to root unless a project file exists.
func WriteTemplate(root string, force bool) (string, error) {
	if existing := FindProjectFile(root); existing != "" && !force {
		return "", fmt.Errorf("config file already exists: %s", existing)
	}
	path := filepath.Join(root, ProjectFileNames[0])
	if err := os.WriteFile(path, []byte(ProjectTemplate), 0644); err != nil {
		return "", fmt.Errorf("failed to write config template: %w", err)
	}
	return path, nil
}
