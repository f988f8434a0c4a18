package scanning

import (
	"fmt"
	"strings"
)

// parseReceiptJSON extracts the JSON object from a model reply and decodes it
func parseReceiptJSON(text string) (*Receipt, error) {
	body, err := jsonObject(text)
	if err != nil {
		return nil, err
	}
	return DecodeReceipt([]byte(body))
}

// jsonObject strips markdown code fences and returns the outermost JSON object
func jsonObject(text string) (string, error) {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}

	return text[startIdx : endIdx+1], nil
}
