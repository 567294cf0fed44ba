package main

import (
	"context"
	"errors"

	"attachgraph/internal/edit"
	"attachgraph/internal/models"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	switch {
	case errors.Is(err, edit.ErrPastRevision):
		lines = append(lines, "hint: edit the latest revision; 'attachgraph message show <id>' lists the prior revisions of a message.")
	case errors.Is(err, edit.ErrMessageNotFound):
		lines = append(lines, "hint: create messages with 'attachgraph message create --thread <id>'.")
	case errors.Is(err, models.ErrUninsertedOwner):
		lines = append(lines, "hint: owner row ids are positive integers returned by the create commands.")
	case errors.Is(err, models.ErrContentNotFound):
		lines = append(lines, "hint: the content may have been removed by 'attachgraph gc-content --apply'.")
	case errors.Is(err, models.ErrMalformedOwnerMetadata):
		lines = append(lines, "hint: sticker attachments need a message created with --sticker and --sticker-pack.")
	case errors.Is(err, context.DeadlineExceeded):
		lines = append(lines, "hint: the database stayed locked; retry once other attachgraph commands finish.")
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
