package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/officechat/internal/storage"
)

// SettingsKey is where Settings are persisted.
const SettingsKey = "officechat:notification-settings"

type SoundMode string

const (
	SoundDefault SoundMode = "default"
	SoundSubtle  SoundMode = "subtle"
	SoundSilent  SoundMode = "silent"
)

type PreviewLevel string

const (
	PreviewFull       PreviewLevel = "full"
	PreviewSenderOnly PreviewLevel = "sender-only"
	PreviewCountOnly  PreviewLevel = "count-only"
)

// TimeOfDay is a wall-clock time without a date, encoded as "HH:MM".
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" in 24h form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: want HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// QuietHours is a daily window during which only urgent notifications
// surface. The window may wrap past midnight; Start == End disables it.
type QuietHours struct {
	Enabled bool      `json:"enabled"`
	Start   TimeOfDay `json:"start"`
	End     TimeOfDay `json:"end"`
}

// Active reports whether t falls inside the window, using t's location.
func (q QuietHours) Active(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, end := q.Start.minutes(), q.End.minutes()
	if start == end {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

// ConversationOverride mutes or snoozes a single conversation.
type ConversationOverride struct {
	Muted        bool       `json:"muted,omitempty"`
	SnoozedUntil *time.Time `json:"snoozedUntil,omitempty"`
}

// Settings are the user's notification preferences.
type Settings struct {
	BrowserNotifications bool                            `json:"browserNotifications"`
	Sound                SoundMode                       `json:"sound"`
	Preview              PreviewLevel                    `json:"preview"`
	QuietHours           QuietHours                      `json:"quietHours"`
	Grouping             bool                            `json:"grouping"`
	UrgentBypassesMute   bool                            `json:"urgentBypassesMute"`
	Conversations        map[string]ConversationOverride `json:"conversations,omitempty"`
}

// DefaultSettings returns the settings used before the user changes anything.
func DefaultSettings() Settings {
	return Settings{
		BrowserNotifications: true,
		Sound:                SoundDefault,
		Preview:              PreviewFull,
		QuietHours: QuietHours{
			Start: TimeOfDay{Hour: 22},
			End:   TimeOfDay{Hour: 8},
		},
		Grouping:           true,
		UrgentBypassesMute: true,
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	if s.Conversations != nil {
		out.Conversations = make(map[string]ConversationOverride, len(s.Conversations))
		for k, v := range s.Conversations {
			if v.SnoozedUntil != nil {
				until := *v.SnoozedUntil
				v.SnoozedUntil = &until
			}
			out.Conversations[k] = v
		}
	}
	return out
}

func (s *Settings) override(conversationID string) ConversationOverride {
	return s.Conversations[conversationID]
}

func (s *Settings) setOverride(conversationID string, o ConversationOverride) {
	if !o.Muted && o.SnoozedUntil == nil {
		delete(s.Conversations, conversationID)
		return
	}
	if s.Conversations == nil {
		s.Conversations = make(map[string]ConversationOverride)
	}
	s.Conversations[conversationID] = o
}

// SettingsStore persists Settings as JSON in a storage.Store.
type SettingsStore struct {
	store storage.Store
}

func NewSettingsStore(store storage.Store) *SettingsStore {
	return &SettingsStore{store: store}
}

// Load returns the persisted settings, or DefaultSettings when none exist.
func (s *SettingsStore) Load() (Settings, error) {
	raw, ok, err := s.store.Get(SettingsKey)
	if err != nil {
		return DefaultSettings(), fmt.Errorf("read settings: %w", err)
	}
	if !ok {
		return DefaultSettings(), nil
	}
	settings := DefaultSettings()
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return DefaultSettings(), fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// Save writes settings durably.
func (s *SettingsStore) Save(settings Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.store.Set(SettingsKey, string(raw)); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
