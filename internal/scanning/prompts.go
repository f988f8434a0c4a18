package scanning

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// DefaultPromptVersion is used when a caller does not ask for a specific template
const DefaultPromptVersion = "1_0_0"

const extractUserPrompt = "Please analyze the following receipt image and extract all relevant data. Respond strictly in the JSON format described by the schema."

const correctionPrompt = "The calculated sum of the itemized prices differs from the total amount on the receipt by %s. " +
	"This discrepancy suggests that one or more items may have been missed or incorrectly scanned. " +
	"Please carefully review the image again and return the complete receipt, ensuring that all items are listed completely and accurately."

//go:embed prompts/extract_v*.txt
var promptFS embed.FS

// Prompt loads the system instructions for a template version
func Prompt(version string) (string, error) {
	if version == "" {
		version = DefaultPromptVersion
	}
	if strings.ContainsAny(version, "/\\.") {
		return "", badInput("invalid prompt version %q", version)
	}

	data, err := promptFS.ReadFile(fmt.Sprintf("prompts/extract_v%s.txt", version))
	if err != nil {
		return "", badInput("unknown prompt version %q (available: %s)", version, strings.Join(PromptVersions(), ", "))
	}
	return strings.TrimSpace(string(data)), nil
}

// PromptVersions lists the embedded template versions
func PromptVersions() []string {
	entries, err := fs.Glob(promptFS, "prompts/extract_v*.txt")
	if err != nil {
		return nil
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		v := strings.TrimPrefix(e, "prompts/extract_v")
		versions = append(versions, strings.TrimSuffix(v, ".txt"))
	}
	sort.Strings(versions)
	return versions
}
