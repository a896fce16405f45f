package persona

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRegistry(t *testing.T, files map[string]string) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	r := NewRegistry(Config{
		Dir:      dir,
		Defaults: Persona{Driver: "anthropic", Model: "claude-sonnet-4"},
	})
	t.Cleanup(func() { _ = r.StopWatching() })
	return r, dir
}

func TestRegistry_Load(t *testing.T) {
	t.Run("should load single and list files", func(t *testing.T) {
		r, _ := setupTestRegistry(t, map[string]string{
			"reviewer.yaml": `
name: Reviewer
system_prompt: Review the diff.
model: gpt-4o
driver: openai
tools:
  allow: [view, search]
`,
			"team.yml": `
personas:
  - id: planner
    system_prompt: Plan the work.
  - id: fixer
    temperature: 0.2
`,
			"notes.txt": "ignored",
		})

		require.NoError(t, r.Load())

		ids := []string{}
		for _, p := range r.List() {
			ids = append(ids, p.ID)
		}
		assert.Equal(t, []string{"default", "fixer", "planner", "reviewer"}, ids)

		reviewer, err := r.Get("reviewer")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", reviewer.Model)
		assert.Equal(t, "openai", reviewer.Driver)
		assert.Equal(t, []string{"view", "search"}, reviewer.Tools.Allow)
		assert.Contains(t, reviewer.Source, "reviewer.yaml")
	})

	t.Run("should fill missing fields from defaults", func(t *testing.T) {
		r, _ := setupTestRegistry(t, map[string]string{
			"team.yml": "personas:\n  - id: planner\n    system_prompt: Plan.\n",
		})
		require.NoError(t, r.Load())

		planner, err := r.Get("planner")
		require.NoError(t, err)
		assert.Equal(t, "Plan.", planner.SystemPrompt)
		assert.Equal(t, "anthropic", planner.Driver)
		assert.Equal(t, "claude-sonnet-4", planner.Model)
	})

	t.Run("should skip broken files and keep the rest", func(t *testing.T) {
		r, _ := setupTestRegistry(t, map[string]string{
			"good.yaml":  "system_prompt: ok\n",
			"bad.yaml":   "system_prompt: [unterminated\n",
			"worse.yaml": "id: has space\n",
		})

		err := r.Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad.yaml")
		assert.Contains(t, err.Error(), "must not contain spaces")

		_, err = r.Get("good")
		assert.NoError(t, err)
	})

	t.Run("should treat a missing directory as empty", func(t *testing.T) {
		r := NewRegistry(Config{Dir: filepath.Join(t.TempDir(), "missing")})
		require.NoError(t, r.Load())
		assert.Len(t, r.List(), 1)
	})
}

func TestRegistry_Resolve(t *testing.T) {
	r, _ := setupTestRegistry(t, map[string]string{"coder.yaml": "model: m1\n"})
	require.NoError(t, r.Load())

	t.Run("should return a known persona", func(t *testing.T) {
		assert.Equal(t, "coder", r.Resolve("coder").ID)
	})

	t.Run("should fall back to the default persona", func(t *testing.T) {
		p := r.Resolve("nobody")
		assert.Equal(t, DefaultID, p.ID)
		assert.Equal(t, DefaultSystemPrompt, p.SystemPrompt)
		assert.Equal(t, DefaultID, r.Resolve("").ID)
	})

	t.Run("should report unknown ids from Get", func(t *testing.T) {
		_, err := r.Get("nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPersona_Policy(t *testing.T) {
	assert.Nil(t, Persona{}.Policy())

	policy := Persona{}
	policy.Tools.Deny = []string{"bash"}
	got := policy.Policy()
	require.NotNil(t, got)
	assert.False(t, got.IsToolAllowed("bash"))
	assert.True(t, got.IsToolAllowed("view"))
}

func TestRegistry_Watch(t *testing.T) {
	r, dir := setupTestRegistry(t, nil)
	require.NoError(t, r.Load())

	var mu sync.Mutex
	var reloads [][]string
	r.OnReload(func(ids []string) {
		mu.Lock()
		reloads = append(reloads, ids)
		mu.Unlock()
	})

	require.NoError(t, r.Watch(20*time.Millisecond))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.yaml"), []byte("model: m2\n"), 0o644))

	assert.Eventually(t, func() bool {
		p, err := r.Get("late")
		return err == nil && p.Model == "m2"
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.NotEmpty(t, reloads)
	mu.Unlock()

	require.NoError(t, os.Remove(filepath.Join(dir, "late.yaml")))
	assert.Eventually(t, func() bool {
		_, err := r.Get("late")
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)

	assert.NoError(t, r.StopWatching())
	assert.NoError(t, r.StopWatching())
}
