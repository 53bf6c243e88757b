package openai

import "errors"

type responsesRequest struct {
	Model        string      `json:"model"`
	Instructions string      `json:"instructions"`
	Input        string      `json:"input"`
	Text         textOptions `json:"text"`
	Temperature  float64     `json:"temperature"`
}

type textOptions struct {
	Format textFormat `json:"format"`
}

type textFormat struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema"`
	Strict      bool           `json:"strict"`
}

type responsesResponse struct {
	Status string       `json:"status"`
	Output []outputItem `json:"output"`
}

type outputItem struct {
	Type    string          `json:"type"`
	Content []outputContent `json:"content"`
}

type outputContent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Refusal string `json:"refusal"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

var (
	errIncomplete = errors.New("response not completed")
	errRefused    = errors.New("model refused")
	errNoOutput   = errors.New("no output text")
)

// outputText concatenates the output_text parts of all message items.
func (r *responsesResponse) outputText() (string, error) {
	if r.Status != "" && r.Status != "completed" {
		return "", errIncomplete
	}

	var text string
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			switch c.Type {
			case "output_text":
				text += c.Text
			case "refusal":
				return "", errRefused
			}
		}
	}

	if text == "" {
		return "", errNoOutput
	}
	return text, nil
}
