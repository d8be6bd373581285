package library

// Urgency is the coarse triage tag on an analysis result.
type Urgency string

const (
	UrgencyHigh    Urgency = "High"
	UrgencyMedium  Urgency = "Medium"
	UrgencyLow     Urgency = "Low"
	UrgencyUnknown Urgency = "Unknown"
)

// ParseUrgency maps a raw model value onto the enum; anything else is Unknown.
func ParseUrgency(raw string) Urgency {
	switch Urgency(raw) {
	case UrgencyHigh, UrgencyMedium, UrgencyLow:
		return Urgency(raw)
	default:
		return UrgencyUnknown
	}
}

// AnalysisResult is the model's reading of a document. Immutable once stored.
type AnalysisResult struct {
	Summary     string   `json:"summary"`
	Urgency     Urgency  `json:"urgency"`
	ActionSteps []string `json:"action_steps"`
	DraftReply  string   `json:"draft_reply"`
}

// Chat message roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ChatMessage is one turn in a document's conversation thread.
type ChatMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// StoredDocument is the unit of persistence: the source image, its analysis,
// and the accumulated chat history. Only ChatHistory mutates after creation.
type StoredDocument struct {
	ID          string         `json:"id"`
	Timestamp   int64          `json:"timestamp"` // milliseconds since epoch
	FileName    string         `json:"fileName"`
	MimeType    string         `json:"mimeType"`
	ImageData   []byte         `json:"imageData"`
	Analysis    AnalysisResult `json:"analysis"`
	ChatHistory []ChatMessage  `json:"chatHistory"`
}
