package gemini

const analysisInstruction = `You are CivicEase, an assistant that helps people understand bureaucratic documents such as official letters, forms, tax notices, and government correspondence. You explain them in plain language and draft polite, ready-to-send replies.`

const analysisPrompt = `Analyze the attached document image and respond with a JSON object containing:
- "summary": a short plain-language synopsis of what this document says and what it means for the recipient.
- "urgency": exactly one of "High", "Medium", "Low", or "Unknown", judged by deadlines and consequences in the document.
- "action_steps": an ordered list of discrete instructions the recipient should follow, in sequence. Use an empty list if no action is required.
- "draft_reply": a complete, polite reply the recipient could send in response to this document.`

const chatInstruction = `You are CivicEase, answering follow-up questions about one specific bureaucratic document. Ground every answer in the attached document image; if the document does not contain the answer, say so plainly.`

// chatGrounding accompanies the image on the logical first turn so resumed
// conversations keep the document in context.
const chatGrounding = `This is the document we are discussing. Answer my follow-up questions about it.`

// analysisSchema constrains the analysis response shape server-side.
func analysisSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
			"urgency": map[string]any{
				"type": "string",
				"enum": []string{"High", "Medium", "Low", "Unknown"},
			},
			"action_steps": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"draft_reply": map[string]any{"type": "string"},
		},
		"required": []string{"summary", "urgency", "action_steps", "draft_reply"},
	}
}
