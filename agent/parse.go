package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// actionRe matches a tool invocation line emitted by the model, e.g.
// ACTION: search({"query": "go generics"}). The argument object is captured
// greedily to the last closing brace so nested objects survive.
var actionRe = regexp.MustCompile(`(?s)ACTION:\s*([a-zA-Z0-9_\-]+)\s*\((\{.*\})\s*\)`)

// parseAction extracts a tool action from a thought. Models produce almost-
// valid JSON often enough that a failed strict parse goes through a repair
// pass before giving up. Returns false when the thought holds no action or
// the arguments are beyond repair; the caller then treats the thought as a
// final answer.
func parseAction(thought string) (Action, bool) {
	m := actionRe.FindStringSubmatch(thought)
	if m == nil {
		return Action{}, false
	}
	name := m[1]
	rawArgs := strings.TrimSpace(m[2])

	var input map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &input); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(rawArgs)
		if repairErr != nil {
			return Action{}, false
		}
		if err := json.Unmarshal([]byte(repaired), &input); err != nil {
			return Action{}, false
		}
	}
	return Action{Tool: name, Input: input}, true
}
