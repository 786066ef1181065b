package persona

// FixedVoiceSource marks a VoiceIdentity that came from the reserved override
// rather than from a storage record.
const FixedVoiceSource = "fixed"

// VoiceIdentity is the speech provider's identifier for a cloned voice.
type VoiceIdentity struct {
	VoiceID string `json:"voiceId"`
	Source  string `json:"source"` // storage path, or FixedVoiceSource
}

// Profile captures the persona a conversation responds as.
type Profile struct {
	UserID    string         `json:"userId"`
	Name      string         `json:"name"`
	Biography string         `json:"biography,omitempty"`
	Voice     *VoiceIdentity `json:"voice,omitempty"`
}

// NewProfile returns the degraded default: the identifier as display name, no biography, no voice.
func NewProfile(userID string) *Profile {
	return &Profile{UserID: userID, Name: userID}
}

// VoiceID returns the resolved voice identifier, or "" when none was found.
func (p *Profile) VoiceID() string {
	if p == nil || p.Voice == nil {
		return ""
	}
	return p.Voice.VoiceID
}
