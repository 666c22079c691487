package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionRequestWireShape(t *testing.T) {
	req := ExecutionRequest{
		Prompt:        "hello",
		AuthSignature: "0xsig",
		Account:       DefaultAccount(),
		Workflow: []Step{{
			StepID:       "s1",
			StepNumber:   1,
			ServiceName:  "summarizer",
			ServiceURL:   "https://svc",
			InputItemIDs: []string{},
		}},
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "hello", decoded["prompt"])
	assert.Equal(t, "0xsig", decoded["userAuthPayload"])
	assert.Equal(t, map[string]any{"collectionID": "0", "nftID": "0"}, decoded["accountNFT"])

	steps := decoded["workflow"].([]any)
	require.Len(t, steps, 1)
	step := steps[0].(map[string]any)
	assert.Equal(t, "s1", step["stepId"])
	assert.Equal(t, float64(1), step["stepNumber"])
	assert.Equal(t, "https://svc", step["serviceUrl"])
	assert.Equal(t, []any{}, step["inputItemID"])
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusPending.Live())
	assert.True(t, StatusRunning.Live())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, Status("done").Valid())
}

func TestAckPayloadFallsBackToRaw(t *testing.T) {
	withResult := Ack{Result: json.RawMessage(`{"summary":"ok"}`), Raw: json.RawMessage(`{"result":{"summary":"ok"}}`)}
	assert.JSONEq(t, `{"summary":"ok"}`, string(withResult.Payload()))

	bare := Ack{Raw: json.RawMessage(`"done"`)}
	assert.Equal(t, `"done"`, string(bare.Payload()))
}

func TestFilterAgents(t *testing.T) {
	agents := []Agent{{Name: "TL;DR"}, {Name: "Deep Research"}, {Name: "Research People"}}
	assert.Len(t, FilterAgents(agents, ""), 3)
	assert.Equal(t, []Agent{{Name: "Deep Research"}, {Name: "Research People"}}, FilterAgents(agents, "research"))
	assert.Empty(t, FilterAgents(agents, "podcast"))
}

func TestSigningMessage(t *testing.T) {
	assert.Equal(t, "Execute workflow: hello", SigningMessage("hello"))
}
