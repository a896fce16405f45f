package session

// findTask returns the task with id anywhere in the tree.
func findTask(tasks []*Task, id string) *Task {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
		if found := findTask(t.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// detachTask removes the task with id from the tree and returns it with its
// subtree intact.
func detachTask(tasks *[]*Task, id string) *Task {
	for i, t := range *tasks {
		if t.ID == id {
			*tasks = append((*tasks)[:i:i], (*tasks)[i+1:]...)
			return t
		}
		if found := detachTask(&t.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// insertTask places t at index among siblings; a negative or out of range
// index appends.
func insertTask(siblings []*Task, t *Task, index int) []*Task {
	if index < 0 || index >= len(siblings) {
		return append(siblings, t)
	}
	out := make([]*Task, 0, len(siblings)+1)
	out = append(out, siblings[:index]...)
	out = append(out, t)
	return append(out, siblings[index:]...)
}

func cloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Children = cloneTasks(t.Children)
	return &c
}

// WalkTasks visits every task depth first with its depth.
func WalkTasks(tasks []*Task, fn func(t *Task, depth int)) {
	var walk func([]*Task, int)
	walk = func(ts []*Task, depth int) {
		for _, t := range ts {
			fn(t, depth)
			walk(t.Children, depth+1)
		}
	}
	walk(tasks, 0)
}
