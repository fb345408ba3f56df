package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// ErrUnconfigured is returned when no planning collaborator has been wired
// in — this is the boundary where an operator plugs one in.
var ErrUnconfigured = errors.New("no planning collaborator configured")

// Unconfigured is a Planner that always reports ErrUnconfigured, used as
// the default when no LLM client is wired in.
type Unconfigured struct{}

func (Unconfigured) DecomposeGoal(ctx context.Context, goal string, goalContext map[string]string) ([]ProposedTask, error) {
	return nil, ErrUnconfigured
}

// OpenAIPlanner decomposes a goal into ProposedTasks via a single chat
// completion call in JSON-object mode that is instructed to reply with the
// task array under a "tasks" key (a bare array is also accepted), rather
// than streaming or tool-calling.
type OpenAIPlanner struct {
	client *openai.Client
	model  string
}

func NewOpenAIPlanner(client *openai.Client, model string) *OpenAIPlanner {
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIPlanner{client: client, model: model}
}

const systemPrompt = `You are a software delivery planner. Decompose the given goal into a
JSON object whose "tasks" field is an array of tasks. Each task has: id, name, type (one of analyze, design,
plan, research, implement, write-code, refactor, fix-bug, write-tests,
run-tests, code-review, security-audit, deploy, document), priority
(1-10), complexity (1-10), deps (array of task ids), requirements (array
of strings). Respond with JSON only, no prose.`

func (p *OpenAIPlanner) DecomposeGoal(ctx context.Context, goal string, goalContext map[string]string) ([]ProposedTask, error) {
	userContent := goal
	if len(goalContext) > 0 {
		ctxJSON, _ := json.Marshal(goalContext)
		userContent = fmt.Sprintf("%s\n\nContext: %s", goal, ctxJSON)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	var wrapper struct {
		Tasks []ProposedTask `json:"tasks"`
	}
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &wrapper); err != nil {
		var bare []ProposedTask
		if err2 := json.Unmarshal([]byte(content), &bare); err2 != nil {
			return nil, errors.Wrapf(err, "parse task list from completion: %q", content)
		}
		return bare, nil
	}
	return wrapper.Tasks, nil
}
