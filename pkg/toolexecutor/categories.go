package toolexecutor

import (
	"strings"
)

// ToolCategory represents a category of tools
type ToolCategory string

const (
	CategoryRead    ToolCategory = "read"
	CategoryWrite   ToolCategory = "write"
	CategoryShell   ToolCategory = "shell"
	CategoryWeb     ToolCategory = "web"
	CategoryAgent   ToolCategory = "agent"
	CategoryGeneral ToolCategory = "general"
)

// AllCategories returns all valid tool categories
func AllCategories() []ToolCategory {
	return []ToolCategory{
		CategoryRead,
		CategoryWrite,
		CategoryShell,
		CategoryWeb,
		CategoryAgent,
		CategoryGeneral,
	}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(category string) bool {
	cat := ToolCategory(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}
