package ragflow

import (
	"context"
	"fmt"
	"net/http"
)

// RagFlow chat requires a chat assistant bound to the dataset plus a session
// inside it. Both are resolved lazily and cached; the cache holds only these
// conversational handles, never documents or chunks.

func (a *RagFlowAdapter) resolveChat(ctx context.Context, knowledgeBaseId string) (string, error) {
	const op = "ragflow.resolveChat"
	if a.chatId != "" {
		return a.chatId, nil
	}
	cacheKey := "chat:" + knowledgeBaseId
	if id, ok := a.sessions.Get(cacheKey); ok {
		return id.(string), nil
	}

	var chats []ragflowChat
	url := fmt.Sprintf("%s/chats?page=1&page_size=%d", a.base(), listPageSize)
	if err := a.doJSON(ctx, op, http.MethodGet, url, nil, &chats); err != nil {
		return "", err
	}
	for _, chat := range chats {
		for _, ds := range chat.DatasetIds {
			if ds == knowledgeBaseId {
				a.sessions.SetDefault(cacheKey, chat.Id)
				return chat.Id, nil
			}
		}
	}

	// No assistant covers this dataset yet; create one.
	var created ragflowChat
	body := map[string]interface{}{
		"name":        "rag-bridge " + shortId(knowledgeBaseId),
		"dataset_ids": []string{knowledgeBaseId},
	}
	if err := a.doJSON(ctx, op, http.MethodPost, a.base()+"/chats", body, &created); err != nil {
		return "", err
	}
	a.sessions.SetDefault(cacheKey, created.Id)
	return created.Id, nil
}

func (a *RagFlowAdapter) resolveSession(ctx context.Context, chatId string) (string, error) {
	const op = "ragflow.resolveSession"
	cacheKey := "session:" + chatId
	if id, ok := a.sessions.Get(cacheKey); ok {
		return id.(string), nil
	}

	var created ragflowSession
	url := fmt.Sprintf("%s/chats/%s/sessions", a.base(), chatId)
	body := map[string]interface{}{"name": "rag-bridge"}
	if err := a.doJSON(ctx, op, http.MethodPost, url, body, &created); err != nil {
		return "", err
	}
	a.sessions.SetDefault(cacheKey, created.Id)
	return created.Id, nil
}

func shortId(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
