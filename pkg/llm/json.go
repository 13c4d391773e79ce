package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrUnfixableJSON is returned when a model could not repair a JSON document.
var ErrUnfixableJSON = errors.New("could not fix JSON")

const repairSyntaxPrompt = "You must correct the syntax in a JSON string provided by the user. " +
	"Take your time to ensure the syntax is correct. " +
	"Return only the corrected JSON, with no additional formatting or context."

const repairContentPrompt = "You must correct the following ERROR in a JSON string provided by the user. " +
	"Take your time to ensure the resulting JSON corrects the error and has correct syntax. " +
	"Return only the corrected JSON, with no additional formatting or context.\n\n" +
	"ERROR: %s"

// ParseJSONAutofix decodes text, asking model to repair it when it is not
// valid JSON. If validate is non-nil and rejects the decoded value, the
// model is asked once more to fix the reported problem.
func ParseJSONAutofix(ctx context.Context, text string, model ChatModel, validate func(any) error, logger *zap.Logger) (any, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		logger.Warn("attempting to fix malformed JSON", zap.String("json", text), zap.Error(err))
		fixed, err := firstResponse(ctx, model.WithSystemPrompt(repairSyntaxPrompt), text)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fixed), &parsed); err != nil {
			return nil, fmt.Errorf("%w: malformed JSON after repair: %v", ErrUnfixableJSON, err)
		}
		text = fixed
	}

	if validate == nil {
		return parsed, nil
	}
	verr := validate(parsed)
	if verr == nil {
		return parsed, nil
	}

	logger.Warn("attempting to fix failed validation", zap.String("json", text), zap.Error(verr))
	fixed, err := firstResponse(ctx, model.WithSystemPrompt(fmt.Sprintf(repairContentPrompt, verr)), text)
	if err != nil {
		return nil, err
	}
	var reparsed any
	if err := json.Unmarshal([]byte(fixed), &reparsed); err != nil {
		logger.Warn("malformed JSON after fixing validation error", zap.String("json", fixed), zap.Error(err))
	} else if err := validate(reparsed); err != nil {
		logger.Warn("new validation error after fix", zap.String("json", fixed), zap.Error(err))
	} else {
		return reparsed, nil
	}
	return nil, fmt.Errorf("%w: validation error %v", ErrUnfixableJSON, verr)
}

func firstResponse(ctx context.Context, model ChatModel, message string) (string, error) {
	responses, err := model.Respond(ctx, message, nil, nil)
	if err != nil {
		return "", fmt.Errorf("repair JSON: %w", err)
	}
	if len(responses) == 0 {
		return "", fmt.Errorf("%w: %w", ErrUnfixableJSON, ErrNoResponse)
	}
	return responses[0], nil
}
