package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stoewer/go-strcase"
)

// sessionAliases maps legacy top-level keys to canonical ones. Keys are
// compared after camel-casing, so "chat_history" and "chatHistory" share an
// entry.
var sessionAliases = map[string]string{
	"messages":     "history",
	"chatHistory":  "history",
	"conversation": "history",
	"cwd":          "workingDirectory",
	"workDir":      "workingDirectory",
	"workingDir":   "workingDirectory",
	"projectDir":   "workingDirectory",
	"agent":        "agentId",
	"usage":        "accounting",
	"tokenUsage":   "accounting",
	"costs":        "accounting",
	"todos":        "tasks",
	"taskTree":     "tasks",
	"taskList":     "tasks",
	"logs":         "toolLogs",
	"toolLog":      "toolLogs",
	"toolHistory":  "toolLogs",
	"state":        "agentState",
	"status":       "agentState",
	"agentStatus":  "agentState",
	"lastUpdated":  "updatedAt",
	"modified":     "updatedAt",
	"created":      "createdAt",
	"sessionId":    "id",
}

var taskAliases = map[string]string{
	"name":     "title",
	"subtasks": "children",
	"items":    "children",
	"parent":   "parentId",
	"parentID": "parentId",
	"desc":     "description",
	"details":  "description",
	"state":    "status",
	"taskId":   "id",
}

var usageAliases = map[string]string{
	"input":            "inputTokens",
	"promptTokens":     "inputTokens",
	"output":           "outputTokens",
	"completionTokens": "outputTokens",
	"requests":         "calls",
	"count":            "calls",
	"costUsd":          "cost",
}

var messageAliases = map[string]string{
	"text":         "content",
	"functionCall": "toolCalls",
	"toolCallID":   "toolCallId",
}

var roleAliases = map[string]string{
	"human":       RoleUser,
	"model":       RoleAssistant,
	"ai":          RoleAssistant,
	"bot":         RoleAssistant,
	"function":    RoleTool,
	"tool_result": RoleTool,
}

var statusAliases = map[string]TaskStatus{
	"":            TaskPending,
	"todo":        TaskPending,
	"open":        TaskPending,
	"not_started": TaskPending,
	"in_progress": TaskInProgress,
	"inprogress":  TaskInProgress,
	"in progress": TaskInProgress,
	"active":      TaskInProgress,
	"running":     TaskInProgress,
	"done":        TaskCompleted,
	"complete":    TaskCompleted,
	"finished":    TaskCompleted,
	"failed":      TaskError,
	"failure":     TaskError,
	"errored":     TaskError,
}

var agentStatusAliases = map[string]AgentStatus{
	"":             StatusIdle,
	"ready":        StatusIdle,
	"waiting":      StatusIdle,
	"busy":         StatusThinking,
	"working":      StatusThinking,
	"tool-running": StatusToolRunning,
	"toolRunning":  StatusToolRunning,
	"running_tool": StatusToolRunning,
}

// canonicalKey camel-cases k and resolves it through aliases.
func canonicalKey(k string, aliases map[string]string) string {
	if v, ok := aliases[k]; ok {
		return v
	}
	c := strcase.LowerCamelCase(k)
	if v, ok := aliases[c]; ok {
		return v
	}
	return c
}

// normalizeKeys rewrites the keys of obj. When a legacy key and its
// canonical form are both present the canonical one wins.
func normalizeKeys(obj map[string]interface{}, aliases map[string]string) (map[string]interface{}, bool) {
	out := make(map[string]interface{}, len(obj))
	changed := false
	for k, v := range obj {
		c := canonicalKey(k, aliases)
		if c == k {
			out[k] = v
			continue
		}
		changed = true
		if _, exists := obj[c]; exists {
			continue
		}
		if _, exists := out[c]; !exists {
			out[c] = v
		}
	}
	return out, changed
}

// Normalize decodes a stored record into a canonical Session. migrated
// reports whether any legacy shape was rewritten.
func Normalize(id string, raw []byte) (*Session, bool, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false, fmt.Errorf("failed to decode session %s: %w", id, err)
	}

	n := &normalizer{}
	obj = n.keys(obj, sessionAliases)

	if v, ok := obj["history"]; ok {
		obj["history"] = n.history(v)
	}
	if v, ok := obj["tasks"]; ok {
		obj["tasks"] = n.tasks(v)
	}
	if v, ok := obj["accounting"]; ok {
		obj["accounting"] = n.accounting(v)
	}
	if v, ok := obj["toolLogs"]; ok {
		logs := n.listOfObjects(v, nil)
		for _, l := range logs {
			n.times(l.(map[string]interface{}), "startedAt")
		}
		obj["toolLogs"] = logs
	}
	if v, ok := obj["agentState"]; ok {
		obj["agentState"] = n.agentState(v)
	}
	if v, ok := obj["id"].(string); !ok || v == "" {
		obj["id"] = id
	}
	n.times(obj, "createdAt", "updatedAt")

	canonical, err := json.Marshal(obj)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode normalized session %s: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(canonical, &s); err != nil {
		return nil, false, fmt.Errorf("failed to decode normalized session %s: %w", id, err)
	}
	s.fillDefaults()
	linkTaskParents(s.Tasks, "")
	return &s, n.migrated, nil
}

type normalizer struct {
	migrated bool
}

func (n *normalizer) keys(obj map[string]interface{}, aliases map[string]string) map[string]interface{} {
	out, changed := normalizeKeys(obj, aliases)
	if changed {
		n.migrated = true
	}
	return out
}

func (n *normalizer) listOfObjects(v interface{}, aliases map[string]string) []interface{} {
	list, ok := v.([]interface{})
	if !ok {
		if v != nil {
			n.migrated = true
		}
		return []interface{}{}
	}
	out := make([]interface{}, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			n.migrated = true
			continue
		}
		out = append(out, n.keys(obj, aliases))
	}
	return out
}

func (n *normalizer) history(v interface{}) []interface{} {
	msgs := n.listOfObjects(v, messageAliases)
	for _, item := range msgs {
		msg := item.(map[string]interface{})
		if role, ok := msg["role"].(string); ok {
			if canon, legacy := roleAliases[role]; legacy {
				msg["role"] = canon
				n.migrated = true
			}
		}
		if parts, ok := msg["content"].([]interface{}); ok {
			msg["parts"] = n.contentParts(parts)
			msg["content"] = joinTextParts(parts)
			n.migrated = true
		}
		if calls, ok := msg["toolCalls"]; ok {
			msg["toolCalls"] = n.toolCalls(calls)
		}
		n.times(msg, "timestamp")
	}
	return msgs
}

func (n *normalizer) contentParts(parts []interface{}) []interface{} {
	out := make([]interface{}, 0, len(parts))
	for _, p := range parts {
		obj, ok := p.(map[string]interface{})
		if !ok {
			if s, isStr := p.(string); isStr {
				out = append(out, map[string]interface{}{"type": "text", "text": s})
			}
			continue
		}
		obj = n.keys(obj, nil)
		typ, _ := obj["type"].(string)
		switch typ {
		case "image_url", "imageUrl", "image":
			url := ""
			switch iu := obj["imageUrl"].(type) {
			case string:
				url = iu
			case map[string]interface{}:
				url, _ = iu["url"].(string)
			}
			if url == "" {
				url, _ = obj["url"].(string)
			}
			part := map[string]interface{}{"type": "image", "imageUrl": url}
			if data, ok := obj["data"]; ok {
				part["data"] = data
				part["mediaType"] = obj["mediaType"]
			}
			out = append(out, part)
		default:
			text, _ := obj["text"].(string)
			out = append(out, map[string]interface{}{"type": "text", "text": text})
		}
	}
	return out
}

func joinTextParts(parts []interface{}) string {
	var texts []string
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			texts = append(texts, v)
		case map[string]interface{}:
			if t, ok := v["text"].(string); ok && t != "" {
				texts = append(texts, t)
			}
		}
	}
	return strings.Join(texts, "\n")
}

// toolCalls flattens the nested {"function": {...}} shape and encodes
// object arguments as strings.
func (n *normalizer) toolCalls(v interface{}) []interface{} {
	if single, ok := v.(map[string]interface{}); ok {
		v = []interface{}{single}
		n.migrated = true
	}
	calls := n.listOfObjects(v, nil)
	for _, item := range calls {
		call := item.(map[string]interface{})
		if fn, ok := call["function"].(map[string]interface{}); ok {
			if _, has := call["name"]; !has {
				call["name"] = fn["name"]
			}
			if _, has := call["arguments"]; !has {
				call["arguments"] = fn["arguments"]
			}
			delete(call, "function")
			delete(call, "type")
			n.migrated = true
		}
		for _, legacy := range []string{"args", "input", "parameters"} {
			if a, has := call[legacy]; has {
				if _, exists := call["arguments"]; !exists {
					call["arguments"] = a
				}
				delete(call, legacy)
				n.migrated = true
			}
		}
		switch a := call["arguments"].(type) {
		case string:
		case nil:
			call["arguments"] = "{}"
		default:
			encoded, err := json.Marshal(a)
			if err != nil {
				encoded = []byte("{}")
			}
			call["arguments"] = string(encoded)
			n.migrated = true
		}
	}
	return calls
}

func (n *normalizer) tasks(v interface{}) []interface{} {
	if obj, ok := v.(map[string]interface{}); ok {
		n.migrated = true
		if items, has := obj["items"]; has {
			v = items
		} else if items, has := obj["tasks"]; has {
			v = items
		} else {
			// map of id -> task
			list := make([]interface{}, 0, len(obj))
			for id, t := range obj {
				if tm, isObj := t.(map[string]interface{}); isObj {
					if _, hasID := tm["id"]; !hasID {
						tm["id"] = id
					}
					list = append(list, tm)
				}
			}
			v = list
		}
	}

	list := n.taskList(v)
	return n.nestFlatTasks(list)
}

func (n *normalizer) taskList(v interface{}) []interface{} {
	tasks := n.listOfObjects(v, taskAliases)
	for _, item := range tasks {
		t := item.(map[string]interface{})
		if id, _ := t["id"].(string); id == "" {
			if num, isNum := t["id"].(float64); isNum {
				t["id"] = fmt.Sprintf("%d", int64(num))
			} else {
				t["id"] = gonanoid.Must(10)
			}
			n.migrated = true
		}
		if pid, isNum := t["parentId"].(float64); isNum {
			t["parentId"] = fmt.Sprintf("%d", int64(pid))
		}
		raw, _ := t["status"].(string)
		status := TaskStatus(raw)
		if done, isBool := t["completed"].(bool); isBool {
			delete(t, "completed")
			n.migrated = true
			if done {
				status = TaskCompleted
			}
		}
		if !status.Valid() {
			canon, known := statusAliases[strings.ToLower(raw)]
			if !known {
				canon = TaskPending
			}
			status = canon
			n.migrated = true
		}
		t["status"] = string(status)
		n.times(t, "createdAt", "updatedAt")
		if children, has := t["children"]; has && children != nil {
			t["children"] = n.taskList(children)
		} else {
			t["children"] = []interface{}{}
		}
	}
	return tasks
}

// nestFlatTasks attaches top-level tasks that name another top-level task
// as parent. Parents that do not exist leave the task at the root.
func (n *normalizer) nestFlatTasks(list []interface{}) []interface{} {
	byID := make(map[string]map[string]interface{}, len(list))
	for _, item := range list {
		t := item.(map[string]interface{})
		byID[t["id"].(string)] = t
	}

	var roots []interface{}
	for _, item := range list {
		t := item.(map[string]interface{})
		pid, _ := t["parentId"].(string)
		parent, ok := byID[pid]
		if pid == "" || !ok || pid == t["id"] || isTaskAncestor(byID, t["id"].(string), pid) {
			if pid != "" && !ok {
				delete(t, "parentId")
				n.migrated = true
			}
			roots = append(roots, t)
			continue
		}
		children, _ := parent["children"].([]interface{})
		parent["children"] = append(children, t)
		n.migrated = true
	}
	if roots == nil {
		roots = []interface{}{}
	}
	return roots
}

// isTaskAncestor reports whether id appears on the flat parent chain of
// start, which would make nesting start under id cyclic.
func isTaskAncestor(byID map[string]map[string]interface{}, id, start string) bool {
	seen := map[string]bool{}
	for cur := start; cur != "" && !seen[cur]; {
		seen[cur] = true
		t, ok := byID[cur]
		if !ok {
			return false
		}
		pid, _ := t["parentId"].(string)
		if pid == id {
			return true
		}
		cur = pid
	}
	return false
}

func (n *normalizer) accounting(v interface{}) map[string]interface{} {
	obj, ok := v.(map[string]interface{})
	if !ok {
		n.migrated = true
		return map[string]interface{}{"models": map[string]interface{}{}}
	}
	models, hasModels := obj["models"].(map[string]interface{})
	if !hasModels {
		// Legacy shape: model name -> usage at the top level.
		models = map[string]interface{}{}
		for k, val := range obj {
			if m, isObj := val.(map[string]interface{}); isObj {
				models[k] = m
			}
		}
		n.migrated = true
	}
	total := 0.0
	for model, val := range models {
		usage, isObj := val.(map[string]interface{})
		if !isObj {
			delete(models, model)
			n.migrated = true
			continue
		}
		usage = n.keys(usage, usageAliases)
		if c, isNum := usage["cost"].(float64); isNum {
			total += c
		}
		models[model] = usage
	}
	return map[string]interface{}{"models": models, "totalCost": total}
}

func (n *normalizer) agentState(v interface{}) map[string]interface{} {
	var state map[string]interface{}
	switch s := v.(type) {
	case string:
		state = map[string]interface{}{"status": s}
		n.migrated = true
	case map[string]interface{}:
		state = n.keys(s, map[string]string{"state": "status", "text": "statusText", "message": "statusText"})
	default:
		state = map[string]interface{}{}
	}
	raw, _ := state["status"].(string)
	status := AgentStatus(raw)
	if canon, legacy := agentStatusAliases[raw]; legacy {
		status = canon
		n.migrated = true
	}
	// A loaded session has no running turn; any busy state is stale.
	if status != StatusIdle {
		status = StatusIdle
		delete(state, "statusText")
		delete(state, "startTime")
		delete(state, "activeToolCallId")
	}
	state["status"] = string(status)
	return state
}

// times rewrites epoch timestamps as RFC 3339 strings and drops values
// that cannot be parsed.
func (n *normalizer) times(obj map[string]interface{}, keys ...string) {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case nil:
		case float64:
			var t time.Time
			if v > 1e12 {
				t = time.UnixMilli(int64(v))
			} else {
				t = time.Unix(int64(v), 0)
			}
			obj[k] = t.UTC().Format(time.RFC3339Nano)
			n.migrated = true
		case string:
			if _, err := time.Parse(time.RFC3339Nano, v); err != nil {
				delete(obj, k)
				n.migrated = true
			}
		default:
			delete(obj, k)
			n.migrated = true
		}
	}
}

func linkTaskParents(tasks []*Task, parentID string) {
	for _, t := range tasks {
		t.ParentID = parentID
		if t.Children == nil {
			t.Children = []*Task{}
		}
		linkTaskParents(t.Children, t.ID)
	}
}
