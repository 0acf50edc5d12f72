package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Character is the persona data the prompts are built from.
type Character struct {
	Name           string
	Description    string
	Personality    string
	Secret         string
	ExampleDialogs string
}

// HistoryMessage is a prior turn. Role "USER" is the human side; anything
// else is treated as the character.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type exampleDialog struct {
	User string `json:"user"`
	Char string `json:"char"`
}

const rulesSection = `
## Important Rules
- Always respond in the same language as the user's message
- Use actions in *asterisks* for physical descriptions
- Stay true to the character's personality and speaking style
- Never break character or reveal you are an AI
`

// BuildSystemPrompt renders the persona instruction for one user.
func BuildSystemPrompt(character Character, userName string) string {
	if strings.TrimSpace(userName) == "" {
		userName = "User"
	}
	fill := strings.NewReplacer("{{user}}", userName, "{{char}}", character.Name)

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. You must always stay in character and respond as %s would.\n", character.Name, character.Name)
	fmt.Fprintf(&b, "\n## Character Description\n%s\n", fill.Replace(character.Description))

	if character.Personality != "" {
		fmt.Fprintf(&b, "\n## Personality\n%s\n", fill.Replace(character.Personality))
	}
	if character.Secret != "" {
		fmt.Fprintf(&b, "\n## Secret Information (Never reveal directly, but act accordingly)\n%s\n", fill.Replace(character.Secret))
	}
	if examples := parseExampleDialogs(character.ExampleDialogs); len(examples) > 0 {
		rendered := make([]string, 0, len(examples))
		for _, ex := range examples {
			rendered = append(rendered, fmt.Sprintf("User: %s\n%s: %s", ex.User, character.Name, ex.Char))
		}
		fmt.Fprintf(&b, "\n## Example Dialogue Style\n%s\n", strings.Join(rendered, "\n\n"))
	}

	b.WriteString(rulesSection)
	return b.String()
}

// parseExampleDialogs ignores text that is not a JSON array of dialogs.
func parseExampleDialogs(raw string) []exampleDialog {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []exampleDialog
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func buildContents(history []HistoryMessage, message string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		var role genai.Role = genai.RoleModel
		if msg.Role == "USER" {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return append(contents, genai.NewContentFromText(message, genai.RoleUser))
}

const imagePromptRecentMessages = 5

func buildImagePrompt(character Character, history []HistoryMessage) string {
	if len(history) > imagePromptRecentMessages {
		history = history[len(history)-imagePromptRecentMessages:]
	}
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		speaker := character.Name
		if msg.Role == "USER" {
			speaker = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, msg.Content))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Based on the following conversation between User and %s, describe a visual scene that represents the current moment or the latest action.\n\n", character.Name)
	fmt.Fprintf(&b, "Character Description: %s\n", character.Description)
	if character.Personality != "" {
		fmt.Fprintf(&b, "Personality: %s\n", character.Personality)
	}
	fmt.Fprintf(&b, "\nConversation:\n%s\n\n", strings.Join(lines, "\n"))
	b.WriteString(`Create a highly detailed image generation prompt for an anime/manhwa style illustration.
Focus on the character's pose, facial expression, and immediate surroundings based on the last message.
The character should look attractive and the mood should match the conversation.

Keywords to include: "best quality", "masterpiece", "high resolution", "anime style", "manhwa style", "romance fantasy", "detailed eyes", "beautiful lighting".

Start with the character's physical description, then the pose and action.
Do not include "The image shows" or similar phrases. Just the description.
`)
	return b.String()
}
