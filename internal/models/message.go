package models

// MessageType tags every frame on the document websocket.
type MessageType string

const (
	// Client -> server
	MessageTypeEdit          MessageType = "edit"
	MessageTypeSwitchSection MessageType = "switch_section"
	MessageTypeHeartbeat     MessageType = "heartbeat"
	MessageTypeAcquireLock   MessageType = "acquire_lock"
	MessageTypeReleaseLock   MessageType = "release_lock"
	MessageTypeCompile       MessageType = "compile"

	// Server -> client
	MessageTypeRemoteChange  MessageType = "remote_change"
	MessageTypePresence      MessageType = "presence"
	MessageTypeLockGranted   MessageType = "lock_granted"
	MessageTypeLockDenied    MessageType = "lock_denied"
	MessageTypeCompileStatus MessageType = "compile_status"
	MessageTypeSaveError     MessageType = "save_error"
	MessageTypeJoin          MessageType = "join"
	MessageTypeLeave         MessageType = "leave"
	MessageTypeError         MessageType = "error"
)

// ClientMessage is the envelope for frames sent by the editor client.
type ClientMessage struct {
	Type       MessageType `json:"type"`
	SectionKey string      `json:"section_key,omitempty"`
	Content    string      `json:"content,omitempty"`
	DocType    DocType     `json:"doc_type,omitempty"`
}

// ServerMessage is the envelope for frames pushed to clients. Only the fields
// relevant to Type are populated.
type ServerMessage struct {
	Type       MessageType     `json:"type"`
	SectionKey string          `json:"section_key,omitempty"`
	Content    string          `json:"content,omitempty"`
	Sequence   uint64          `json:"sequence,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	UserName   string          `json:"user_name,omitempty"`
	HolderID   string          `json:"holder_id,omitempty"`
	ReadOnly   bool            `json:"read_only,omitempty"`
	Presence   []PresenceEntry `json:"presence,omitempty"`
	Job        *CompileJob     `json:"job,omitempty"`
	Error      string          `json:"error,omitempty"`
}
