package engine

import (
	"context"
	"errors"
	"fmt"

	"warboard/internal/classify"
	"warboard/internal/domain"
)

// CommandResult is the response to one natural-language command.
type CommandResult struct {
	Message string     `json:"message"`
	Changes ExecResult `json:"changes"`
}

// Command parses a free-text operations command and executes the
// resulting batch. A response the parser cannot understand degrades to
// a polite refusal rather than an error.
func (e Engine) Command(ctx context.Context, message string) (CommandResult, error) {
	if e.Classifier == nil {
		return CommandResult{}, errors.New("classifier not configured")
	}
	batch, err := e.Classifier.Command(ctx, message)
	if err != nil {
		if errors.Is(err, classify.ErrUnparseable) {
			e.log(ctx, "CMD", fmt.Sprintf("Unparseable command: %.100s", message), "", "", domain.SourceWarboard)
			return CommandResult{Message: "Sorry, I could not understand that command."}, nil
		}
		return CommandResult{}, err
	}
	e.log(ctx, "CMD", fmt.Sprintf("Command: %.100s", message), "", "", domain.SourceWarboard)
	res := e.ExecuteBatch(ctx, batch, domain.SourceWarboard)
	msg := batch.Message
	if msg == "" {
		msg = fmt.Sprintf("Applied %d updates, %d new items.", res.Updates, res.Creates)
	}
	return CommandResult{Message: msg, Changes: res}, nil
}
