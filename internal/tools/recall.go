package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// RecallResultToolName is the name of the tool that reads back a stored
// result.
const RecallResultToolName = "recall_result"

const defaultRecallChars = 8000

// NewRecallTool exposes the store to the model. Compressed results carry
// a reference id; this tool returns the full payload, paged by
// offset and max_chars so a huge document can be read in pieces.
func NewRecallTool(store *ResultStore) *Tool {
	return &Tool{
		Name:        RecallResultToolName,
		Description: "Retrieve the full output of an earlier tool call that was summarized. Pass the reference id from the summary. Use offset to continue reading a long result.",
		Parameters: []Parameter{
			{Name: "id", Type: "string", Description: "Reference id from a summarized result", Required: true},
			{Name: "offset", Type: "integer", Description: "Character offset to start reading from", Default: 0},
			{Name: "max_chars", Type: "integer", Description: "Maximum characters to return", Default: defaultRecallChars},
		},
		Handler: func(_ context.Context, params map[string]any, _ Context) (*Result, error) {
			id := StringParam(params, "id")
			data, err := store.Get(id)
			if errors.Is(err, ErrResultNotFound) {
				return Fail("no stored result %q (it may have expired)", id), nil
			}
			if err != nil {
				return nil, err
			}

			text, err := renderStored(data)
			if err != nil {
				return nil, fmt.Errorf("render stored result: %w", err)
			}

			offset := IntParam(params, "offset", 0)
			maxChars := IntParam(params, "max_chars", defaultRecallChars)
			if maxChars <= 0 {
				maxChars = defaultRecallChars
			}

			runes := []rune(text)
			if offset < 0 || offset > len(runes) {
				offset = len(runes)
			}
			end := min(offset+maxChars, len(runes))

			return OK(map[string]any{
				"id":          id,
				"content":     string(runes[offset:end]),
				"offset":      offset,
				"total":       len(runes),
				"truncated":   end < len(runes),
				"next_offset": end,
			}), nil
		},
	}
}

func renderStored(data any) (string, error) {
	if s, ok := data.(string); ok {
		return s, nil
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
