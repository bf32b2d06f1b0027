package tools

import "log/slog"

// Context identifies who a call is made for. ModelTier lets a tool that
// calls a model pick the same tier as the run that invoked it.
type Context struct {
	UserID         string
	ConversationID string
	RequestID      string
	ModelTier      string
	Language       string // preferred response language, if any
}

// LogValue implements slog.LogValuer so a Context can be logged as one
// attribute group.
func (c Context) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", c.UserID),
		slog.String("conversation_id", c.ConversationID),
		slog.String("request_id", c.RequestID),
		slog.String("model_tier", c.ModelTier),
		slog.String("language", c.Language),
	)
}
