package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ErrTaskTitleRequired rejects tasks without a title.
var ErrTaskTitleRequired = errors.New("task title is required")

const taskIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// TaskInput describes a task to add.
type TaskInput struct {
	Title       string
	Description string
	Status      TaskStatus
	ParentID    string
}

// TaskPatch holds the fields to change on an existing task.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *TaskStatus
}

func newTaskID() (string, error) {
	return gonanoid.Generate(taskIDAlphabet, 8)
}

// AddTask appends a task at the root or under ParentID.
func (m *Manager) AddTask(ctx context.Context, sessionID string, in TaskInput, opts ...MutationOption) (*Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, ErrTaskTitleRequired
	}
	if in.Status == "" {
		in.Status = TaskPending
	}
	if !in.Status.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, in.Status)
	}
	id, err := newTaskID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate task id: %w", err)
	}

	var created *Task
	err = m.mutate(ctx, sessionID, opts, func(e *entry) ([]Event, error) {
		now := m.now()
		t := &Task{
			ID:          id,
			Title:       in.Title,
			Description: in.Description,
			Status:      in.Status,
			ParentID:    in.ParentID,
			Children:    []*Task{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if in.ParentID == "" {
			e.session.Tasks = append(e.session.Tasks, t)
		} else {
			parent := findTask(e.session.Tasks, in.ParentID)
			if parent == nil {
				return nil, fmt.Errorf("%w: parent %s", ErrTaskNotFound, in.ParentID)
			}
			parent.Children = append(parent.Children, t)
			parent.UpdatedAt = now
		}
		created = cloneTask(t)
		return []Event{{Type: EventTaskAdded, Task: &TaskDiff{After: cloneTask(t)}}}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// EditTask applies patch to a task.
func (m *Manager) EditTask(ctx context.Context, sessionID, taskID string, patch TaskPatch, opts ...MutationOption) (*Task, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, *patch.Status)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, ErrTaskTitleRequired
	}

	var updated *Task
	err := m.mutate(ctx, sessionID, opts, func(e *entry) ([]Event, error) {
		t := findTask(e.session.Tasks, taskID)
		if t == nil {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		before := cloneTask(t)

		var fields []string
		if patch.Title != nil && strings.TrimSpace(*patch.Title) != t.Title {
			t.Title = strings.TrimSpace(*patch.Title)
			fields = append(fields, "title")
		}
		if patch.Description != nil && *patch.Description != t.Description {
			t.Description = *patch.Description
			fields = append(fields, "description")
		}
		if patch.Status != nil && *patch.Status != t.Status {
			t.Status = *patch.Status
			fields = append(fields, "status")
		}
		t.UpdatedAt = m.now()
		updated = cloneTask(t)
		return []Event{{
			Type: EventTaskUpdated,
			Task: &TaskDiff{Before: before, After: cloneTask(t), Fields: fields},
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetTaskStatus changes only the status of a task.
func (m *Manager) SetTaskStatus(ctx context.Context, sessionID, taskID string, status TaskStatus, opts ...MutationOption) error {
	_, err := m.EditTask(ctx, sessionID, taskID, TaskPatch{Status: &status}, opts...)
	return err
}

// MoveTask reparents a task with its subtree. An empty newParentID moves it
// to the root; index positions it among the new siblings, negative appends.
// Moving a task under itself or a descendant fails with ErrInvalidMove.
func (m *Manager) MoveTask(ctx context.Context, sessionID, taskID, newParentID string, index int, opts ...MutationOption) error {
	return m.mutate(ctx, sessionID, opts, func(e *entry) ([]Event, error) {
		s := e.session
		t := findTask(s.Tasks, taskID)
		if t == nil {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if newParentID != "" {
			if newParentID == taskID || findTask(t.Children, newParentID) != nil {
				return nil, fmt.Errorf("%w: %s cannot move under its own subtree", ErrInvalidMove, taskID)
			}
			if findTask(s.Tasks, newParentID) == nil {
				return nil, fmt.Errorf("%w: parent %s", ErrTaskNotFound, newParentID)
			}
		}
		before := cloneTask(t)

		detachTask(&s.Tasks, taskID)
		t.ParentID = newParentID
		t.UpdatedAt = m.now()
		if newParentID == "" {
			s.Tasks = insertTask(s.Tasks, t, index)
		} else {
			parent := findTask(s.Tasks, newParentID)
			parent.Children = insertTask(parent.Children, t, index)
		}
		return []Event{{
			Type: EventTaskMoved,
			Task: &TaskDiff{Before: before, After: cloneTask(t), Fields: []string{"parentId"}},
		}}, nil
	})
}

// RemoveTask deletes a task and its subtree.
func (m *Manager) RemoveTask(ctx context.Context, sessionID, taskID string, opts ...MutationOption) error {
	return m.mutate(ctx, sessionID, opts, func(e *entry) ([]Event, error) {
		t := detachTask(&e.session.Tasks, taskID)
		if t == nil {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return []Event{{Type: EventTaskRemoved, Task: &TaskDiff{Before: t}}}, nil
	})
}
