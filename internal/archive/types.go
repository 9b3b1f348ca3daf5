package archive

import "time"

// TranscriptRecord is the anonymized form of a session archived to S3.
type TranscriptRecord struct {
	Version    string           `json:"version"`
	SessionID  string           `json:"session_id"`
	Vertical   string           `json:"vertical"`
	Channel    string           `json:"channel"`
	PhoneHash  string           `json:"phone_hash,omitempty"`
	ArchivedAt time.Time        `json:"archived_at"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    time.Time        `json:"ended_at"`
	Outcome    string           `json:"outcome"`
	Escalation string           `json:"escalation_reason,omitempty"`
	TurnCount  int              `json:"turn_count"`
	LLMCalls   int              `json:"llm_calls"`
	Turns      []TranscriptTurn `json:"turns"`
}

// TranscriptTurn is a single exchange.
type TranscriptTurn struct {
	Number    int       `json:"turn_number"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Agent     string    `json:"agent"`
	Intent    string    `json:"intent"`
	Layer     string    `json:"layer"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	SessionID  string `json:"session_id"`
	S3Key      string `json:"s3_key"`
	Vertical   string `json:"vertical"`
	Outcome    string `json:"outcome"`
	ArchivedAt string `json:"archived_at"`
	TurnCount  int    `json:"turn_count"`
}
