package catalog

import (
	"github.com/spf13/cast"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/workflow"
)

// 目录服务的响应结构并不稳定：字段可能缺失、类型可能是数字，
// 这里统一做宽松解析，缺失字段取空字符串而不是拒绝整条记录。

func parseAgents(body []byte) ([]workflow.Agent, error) {
	doc, err := decodeDocument(body)
	if err != nil {
		return nil, err
	}
	raw, _ := lookup(doc, "data", "agents")
	list, ok := raw.([]any)
	if !ok {
		return []workflow.Agent{}, nil
	}
	agents := make([]workflow.Agent, 0, len(list))
	for _, item := range list {
		record, _ := item.(map[string]any)
		agents = append(agents, workflow.Agent{
			Name:        firstString(record, "name", "subnet_name"),
			Description: firstString(record, "description"),
			Identifier:  firstString(record, "id", "subnet_url"),
		})
	}
	return agents, nil
}

func parseWorkflow(body []byte) ([]workflow.Step, error) {
	doc, err := decodeDocument(body)
	if err != nil {
		return nil, err
	}
	raw, found := lookup(doc, "data", "subnet_list")
	if !found || raw == nil {
		return nil, xerrors.New(xerrors.CodeWorkflowNotFound, "")
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, xerrors.New(xerrors.CodeWorkflowNotFound, "workflow has an unexpected shape")
	}
	steps := make([]workflow.Step, 0, len(list))
	for idx, item := range list {
		record, _ := item.(map[string]any)
		inputs := cast.ToStringSlice(record["inputItemID"])
		if inputs == nil {
			inputs = []string{}
		}
		steps = append(steps, workflow.Step{
			StepID:       firstString(record, "id"),
			StepNumber:   idx + 1,
			ServiceName:  firstString(record, "subnetName"),
			ServiceURL:   firstString(record, "subnetURL"),
			Prompt:       firstString(record, "prompt"),
			InputItemIDs: inputs,
			Output:       record["output"],
			SystemPrompt: firstString(record, "systemPrompt"),
			Description:  firstString(record, "description"),
		})
	}
	return steps, nil
}

// lookup 沿 keys 逐层读取嵌套对象，found 表示最后一个键存在。
func lookup(doc any, keys ...string) (value any, found bool) {
	current := doc
	for _, key := range keys {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func firstString(record map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := cast.ToString(record[key]); value != "" {
			return value
		}
	}
	return ""
}
