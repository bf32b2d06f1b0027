package facts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/whim-agent/internal/tools"
)

// Tool names.
const (
	SaveToolName   = "save_memory"
	RecallToolName = "recall_memory"
	ForgetToolName = "forget_memory"
)

const (
	defaultRecallLimit = 10
	maxRecallLimit     = 50
)

func categoryEnum() []string {
	out := make([]string, len(Categories))
	for i, c := range Categories {
		out[i] = string(c)
	}
	return out
}

// RegisterTools adds the memory tools backed by store to reg.
func RegisterTools(reg *tools.Registry, store *Store) {
	reg.Register(NewSaveTool(store))
	reg.Register(NewRecallTool(store))
	reg.Register(NewForgetTool(store))
}

// NewSaveTool returns the save_memory tool. Its Data is a
// tools.SavedMemory.
func NewSaveTool(store *Store) *tools.Tool {
	return &tools.Tool{
		Name: SaveToolName,
		Description: "Remember a fact about the user for future conversations. " +
			"Saving an existing key replaces its value.",
		Parameters: []tools.Parameter{
			{Name: "key", Type: "string", Description: "Short identifier, e.g. 'preferred_units'.", Required: true},
			{Name: "value", Type: "string", Description: "The information to remember.", Required: true},
			{Name: "category", Type: "string", Enum: categoryEnum(), Default: string(CategoryPreference)},
		},
		Handler: func(_ context.Context, params map[string]any, tc tools.Context) (*tools.Result, error) {
			if tc.UserID == "" {
				return tools.Fail("memory is unavailable without a user id"), nil
			}
			key := strings.TrimSpace(tools.StringParam(params, "key"))
			value := strings.TrimSpace(tools.StringParam(params, "value"))
			if key == "" || value == "" {
				return tools.Fail("key and value must not be empty"), nil
			}

			f, err := store.Set(tc.UserID, Category(tools.StringParam(params, "category")), key, value, tc.ConversationID)
			if err != nil {
				return nil, fmt.Errorf("store fact: %w", err)
			}
			return tools.OK(tools.SavedMemory{Key: f.Key, Value: f.Value}), nil
		},
	}
}

// NewRecallTool returns the recall_memory tool. Its Data is a []*Fact.
func NewRecallTool(store *Store) *tools.Tool {
	return &tools.Tool{
		Name:        RecallToolName,
		Description: "Look up facts previously saved about the user. Leave query empty to list recent facts.",
		Parameters: []tools.Parameter{
			{Name: "query", Type: "string", Description: "Words that must appear in the key or value."},
			{Name: "category", Type: "string", Enum: categoryEnum()},
			{Name: "limit", Type: "integer", Default: defaultRecallLimit},
		},
		Handler: func(_ context.Context, params map[string]any, tc tools.Context) (*tools.Result, error) {
			if tc.UserID == "" {
				return tools.Fail("memory is unavailable without a user id"), nil
			}
			limit := min(max(tools.IntParam(params, "limit", defaultRecallLimit), 1), maxRecallLimit)

			facts, err := store.Search(tc.UserID,
				Category(tools.StringParam(params, "category")),
				tools.StringParam(params, "query"), limit)
			if err != nil {
				return nil, fmt.Errorf("search facts: %w", err)
			}
			if facts == nil {
				facts = []*Fact{}
			}
			return tools.OK(facts), nil
		},
	}
}

// NewForgetTool returns the forget_memory tool.
func NewForgetTool(store *Store) *tools.Tool {
	return &tools.Tool{
		Name:        ForgetToolName,
		Description: "Delete a previously saved fact.",
		Parameters: []tools.Parameter{
			{Name: "key", Type: "string", Required: true},
			{Name: "category", Type: "string", Enum: categoryEnum(), Default: string(CategoryPreference)},
		},
		Handler: func(_ context.Context, params map[string]any, tc tools.Context) (*tools.Result, error) {
			cat := Category(tools.StringParam(params, "category"))
			key := tools.StringParam(params, "key")
			err := store.Delete(tc.UserID, cat, key)
			if errors.Is(err, ErrNotFound) {
				return tools.Fail("no fact %s/%s", cat, key), nil
			}
			if err != nil {
				return nil, err
			}
			return tools.OK(fmt.Sprintf("Forgot: [%s] %s", cat, key)), nil
		},
	}
}
