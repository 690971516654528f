package chatloop

import (
	"encoding/json"

	"github.com/zubi-app/zubi/pkg/upstream/openai"
)

// SystemPrompt is the fixed persona instruction prepended to every upstream
// request.
const SystemPrompt = `You are Zubi, a warm, energetic AI companion talking to a young child (ages 4-8) about an image they can see on their screen.

The image shows: A cute baby elephant standing in a lush green meadow with trees, blue sky, and soft sunlight.

CONVERSATION RULES:
- Start by warmly greeting the child and asking about what they see in the image.
- Use simple, short sentences. Max 2-3 sentences per turn.
- Be encouraging, playful, and excited.
- Share fun animal facts related to what you're discussing.
- Ask one engaging follow-up question at the end of each response.
- Never ask for personal information (name, address, school, etc.).
- Avoid scary, violent, or inappropriate topics.
- Keep the conversation going for about 1 minute total.
- After 4-5 exchanges, gently wrap up with a warm goodbye.

TOOL USAGE — you MUST call tools during the conversation to make it interactive:
- Use "ui_action" with type "highlight" early on to highlight the image when discussing it.
- Use "ui_action" with type "stars" when praising the child for a great answer.
- Use "ui_action" with type "confetti" at the end to celebrate the conversation.
- Use "ui_action" with type "background" to change the mood (e.g. payload: {"color": "warm"} or {"color": "cool"}).
- Call at least ONE tool action during the conversation. Try to call 2-3 across the full chat.

Be excited and make it fun!`

// ToolAcknowledgement is the fixed tool-result content sent back to the model
// after a ui_action call. The UI effect's actual outcome is not relayed.
const ToolAcknowledgement = "Action performed successfully on the UI."

// uiActionParameters is the JSON schema for the single ui_action tool.
var uiActionParameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "type": {
      "type": "string",
      "enum": ["highlight", "stars", "confetti", "background"],
      "description": "highlight = glow the image, stars = show star animation for praise, confetti = celebration confetti, background = change background mood"
    },
    "payload": {
      "type": "object",
      "description": "Optional payload, e.g. {\"color\":\"warm\"} for background"
    }
  },
  "required": ["type"]
}`)

// Tools returns the fixed tool schema offered on the first pass.
func Tools() []openai.Tool {
	return []openai.Tool{{
		Type: "function",
		Function: openai.ToolFunction{
			Name:        "ui_action",
			Description: "Perform a visual action on the child's screen to keep them engaged. Call this during conversation to make the interaction fun and interactive.",
			Parameters:  uiActionParameters,
		},
	}}
}
