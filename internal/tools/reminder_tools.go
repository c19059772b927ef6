package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/store"
)

func (r *Registry) registerReminderTools() {
	dueDate := map[string]any{
		"type":        "string",
		"description": "When the reminder is due: RFC3339 timestamp, '2006-01-02 15:04', a duration like '30m', or 'in 2 hours'",
	}
	individual := map[string]any{
		"type":        "boolean",
		"description": "True if the reminder is for one person rather than the whole chat",
	}
	targetPhone := map[string]any{
		"type":        "string",
		"description": "Phone number of the person to remind, only for individual reminders",
	}

	r.Register(&Tool{
		Name:        "create_reminder",
		Description: "Create a reminder for this chat.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "What to remind about",
				},
				"due_date":      dueDate,
				"is_individual": individual,
				"target_phone":  targetPhone,
			},
			"required": []string{"title", "due_date"},
		},
		Handler: r.handleCreateReminder,
	})

	r.Register(&Tool{
		Name:        "list_reminders",
		Description: "List the reminders of this chat, soonest first.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler:  r.handleListReminders,
		ReadOnly: true,
	})

	r.Register(&Tool{
		Name:        "update_reminder",
		Description: "Change an existing reminder. Only the given fields are updated.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{
					"type":        "string",
					"description": "Reminder ID from list_reminders",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "New title",
				},
				"due_date":      dueDate,
				"is_individual": individual,
				"target_phone":  targetPhone,
			},
			"required": []string{"id"},
		},
		Handler: r.handleUpdateReminder,
	})

	r.Register(&Tool{
		Name:        "delete_reminder",
		Description: "Delete a reminder.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{
					"type":        "string",
					"description": "Reminder ID from list_reminders",
				},
			},
			"required": []string{"id"},
		},
		Handler: r.handleDeleteReminder,
	})
}

type reminderView struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	DueAt        string `json:"due_at"`
	IsIndividual bool   `json:"is_individual"`
	TargetPhone  string `json:"target_phone,omitempty"`
}

func viewOf(rem *model.Reminder) reminderView {
	return reminderView{
		ID:           rem.ID,
		Title:        rem.Title,
		DueAt:        rem.DueAt.Format(time.RFC3339),
		IsIndividual: rem.IsIndividual,
		TargetPhone:  rem.TargetPhone,
	}
}

func (r *Registry) handleCreateReminder(ctx context.Context, args map[string]any) (string, error) {
	convID, _ := args[ConversationIDArg].(string)

	title, _ := args["title"].(string)
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("title is required")
	}

	when, _ := args["due_date"].(string)
	if when == "" {
		return "", fmt.Errorf("due_date is required")
	}
	now := r.now()
	dueAt, err := parseWhen(when, now)
	if err != nil {
		return "", fmt.Errorf("invalid due_date: %w", err)
	}

	rem := &model.Reminder{
		ConversationID: convID,
		Title:          title,
		DueAt:          dueAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	individual, _ := args["is_individual"].(bool)
	if individual {
		rem.TargetPhone, _ = args["target_phone"].(string)
	}
	rem.SetIndividual(individual)

	if err := r.reminders.Create(ctx, rem); err != nil {
		return "", fmt.Errorf("create reminder: %w", err)
	}
	return jsonResult(map[string]any{"status": "created", "reminder": viewOf(rem)})
}

func (r *Registry) handleListReminders(ctx context.Context, args map[string]any) (string, error) {
	convID, _ := args[ConversationIDArg].(string)

	list, err := r.reminders.List(ctx, convID)
	if err != nil {
		return "", fmt.Errorf("list reminders: %w", err)
	}

	views := make([]reminderView, 0, len(list))
	for _, rem := range list {
		views = append(views, viewOf(rem))
	}
	return jsonResult(map[string]any{"reminders": views})
}

func (r *Registry) handleUpdateReminder(ctx context.Context, args map[string]any) (string, error) {
	convID, _ := args[ConversationIDArg].(string)

	id, _ := args["id"].(string)
	if id == "" {
		return "", fmt.Errorf("id is required")
	}

	rem, err := r.reminders.Get(ctx, convID, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("reminder %s not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("get reminder: %w", err)
	}

	now := r.now()
	if title, ok := args["title"].(string); ok && strings.TrimSpace(title) != "" {
		rem.Title = strings.TrimSpace(title)
	}
	if when, ok := args["due_date"].(string); ok && when != "" {
		dueAt, err := parseWhen(when, now)
		if err != nil {
			return "", fmt.Errorf("invalid due_date: %w", err)
		}
		rem.DueAt = dueAt
	}
	if phone, ok := args["target_phone"].(string); ok {
		rem.TargetPhone = phone
	}
	if individual, ok := args["is_individual"].(bool); ok {
		rem.SetIndividual(individual)
	} else if !rem.IsIndividual {
		rem.TargetPhone = ""
	}
	rem.UpdatedAt = now

	if err := r.reminders.Update(ctx, rem); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("reminder %s not found", id)
		}
		return "", fmt.Errorf("update reminder: %w", err)
	}
	return jsonResult(map[string]any{"status": "updated", "reminder": viewOf(rem)})
}

func (r *Registry) handleDeleteReminder(ctx context.Context, args map[string]any) (string, error) {
	convID, _ := args[ConversationIDArg].(string)

	id, _ := args["id"].(string)
	if id == "" {
		return "", fmt.Errorf("id is required")
	}

	if err := r.reminders.Delete(ctx, convID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("reminder %s not found", id)
		}
		return "", fmt.Errorf("delete reminder: %w", err)
	}
	return jsonResult(map[string]any{"status": "deleted", "id": id})
}
