// Package vision screens generated images and writes their upload metadata
// using a multimodal model.
package vision

import (
	"fmt"
	"os"
	"strings"
)

// ContextPlaceholder in a custom metadata prompt is replaced by the prompt
// context of the item.
const ContextPlaceholder = "{{prompt_context}}"

const DefaultQualityPrompt = `You review AI generated images before they are sold as stock photography. Decide whether the image can be used commercially without legal risk.

Fail the image when you are confident it shows any of:
- misspelled, offensive or trademarked text (correctly spelled typography designs are fine)
- a person who resembles a celebrity or public figure
- brand logos, company names or recognizable commercial products
- characters from films, games, comics or other copyrighted works
- famous buildings, monuments or landmarks
- watermarks, signatures or ownership marks

Reply with one JSON object and nothing else:
{"passed": true|false, "score": 1-10, "reason": "what you found or why the image is safe"}
Use scores 1-3 for failures and 8-10 for passes.`

const defaultMetadataPrompt = `You write listings for stock photography marketplaces. Look at the image and produce its title, description and tags.

The image was generated from this idea: "%s". Use it to understand the subject, but describe what is actually visible.

- new_title: a descriptive, appealing title of 8 to 12 words
- new_description: an engaging description of 150 to 250 characters
- uploadTags: exactly 15 tags mixing single words and short phrases, separated by commas

Reply with one JSON object with the keys "new_title", "new_description" and "uploadTags", without markdown.`

// MetadataPrompt renders the metadata instruction for a prompt context. A
// custom template gets the context substituted for ContextPlaceholder.
func MetadataPrompt(custom, promptContext string) string {
	if strings.TrimSpace(custom) == "" {
		return fmt.Sprintf(defaultMetadataPrompt, promptContext)
	}
	return strings.ReplaceAll(custom, ContextPlaceholder, promptContext)
}

// LoadPrompt reads a prompt override. An empty path yields "".
func LoadPrompt(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("vision: load prompt %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
