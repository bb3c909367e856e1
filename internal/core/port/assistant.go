package port

import "context"

// AssistantRequest carries a guarded assistant call to the inference upstream.
type AssistantRequest struct {
	UserID         string
	ConversationID string
	Message        string
	Mode           string
}

// AssistantResponse is the upstream's reply passed back to the client verbatim.
type AssistantResponse struct {
	ConversationID string
	Reply          string
	Model          string
	DurationMillis int64
}

// AssistantBackend abstracts the inference service behind the gateway. The
// gateway admits and forwards; it never interprets model output.
type AssistantBackend interface {
	Chat(ctx context.Context, req AssistantRequest) (*AssistantResponse, error)
}
