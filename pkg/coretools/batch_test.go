package coretools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch(t *testing.T) {
	tt := setupTestTools(t)
	tt.writeFile(t, "a.txt", "alpha\n")

	t.Run("should run every invocation and keep per-item errors", func(t *testing.T) {
		res := tt.run(t, ToolBatch, map[string]interface{}{
			"invocations": []interface{}{
				map[string]interface{}{"tool_name": ToolView, "input": map[string]interface{}{"file_path": "a.txt"}},
				map[string]interface{}{"tool_name": ToolView, "input": map[string]interface{}{"file_path": "missing.txt"}},
				map[string]interface{}{"tool_name": "nope", "input": map[string]interface{}{}},
				map[string]interface{}{"tool_name": ToolGlob, "input": map[string]interface{}{"pattern": "*.txt"}},
			},
		})
		require.True(t, res.Success, res.Error)

		items := res.Output.([]BatchItemResult)
		require.Len(t, items, 4)
		assert.True(t, items[0].Success)
		assert.Contains(t, items[0].Output, "alpha")
		assert.False(t, items[1].Success)
		assert.NotEmpty(t, items[1].Error)
		assert.False(t, items[2].Success)
		assert.Contains(t, items[2].Error, "tool not found")
		assert.True(t, items[3].Success)
		assert.Equal(t, "a.txt\n", items[3].Output)
	})

	t.Run("should refuse nested batches", func(t *testing.T) {
		res := tt.run(t, ToolBatch, map[string]interface{}{
			"invocations": []interface{}{
				map[string]interface{}{"tool_name": ToolBatch, "input": map[string]interface{}{}},
			},
		})
		require.True(t, res.Success, res.Error)
		items := res.Output.([]BatchItemResult)
		assert.Equal(t, "batch cannot be nested", items[0].Error)
	})

	t.Run("should keep submission order with the default limit", func(t *testing.T) {
		res := tt.run(t, ToolBatch, map[string]interface{}{
			"invocations": []interface{}{
				map[string]interface{}{"tool_name": ToolWrite, "input": map[string]interface{}{"file_path": "o.txt", "content": "1"}},
				map[string]interface{}{"tool_name": ToolEdit, "input": map[string]interface{}{"file_path": "o.txt", "old_string": "1", "new_string": "2"}},
				map[string]interface{}{"tool_name": ToolView, "input": map[string]interface{}{"file_path": "o.txt"}},
			},
		})
		require.True(t, res.Success, res.Error)
		items := res.Output.([]BatchItemResult)
		require.True(t, items[2].Success, items[2].Error)
		assert.Equal(t, "     1\t2\n", items[2].Output)
	})

	t.Run("should validate the invocation list", func(t *testing.T) {
		res := tt.run(t, ToolBatch, map[string]interface{}{"invocations": []interface{}{}})
		assert.False(t, res.Success)
	})
}
