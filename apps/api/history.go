package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/model"
)

type MessageLister interface {
	List(ctx context.Context) ([]model.Message, error)
}

// HistoryHandler serves the collection in creation order, the same order the
// live query uses.
type HistoryHandler struct {
	messages MessageLister
	logger   *zap.Logger
}

func NewHistoryHandler(messages MessageLister, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{messages: messages, logger: logger}
}

func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	messages, err := h.messages.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list messages", zap.String("id", RequestIDFromContext(r.Context())), zap.Error(err))
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}

	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, messages)
}
