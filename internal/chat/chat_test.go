package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewView_NullImage(t *testing.T) {
	msg := &ChatMessage{ID: 7, RoomID: 1, SenderID: 42, Content: "hi", CreatedAt: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)}
	view := NewView(msg, &Member{ID: 42, Nickname: "mina"})

	data, err := json.Marshal(view)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, float64(7), decoded["messageId"])
	assert.Equal(t, float64(42), decoded["senderId"])
	assert.Equal(t, "mina", decoded["senderName"])
	assert.Contains(t, decoded, "senderImage")
	assert.Nil(t, decoded["senderImage"])
	assert.Equal(t, "2026-07-01T12:00:00.000Z", decoded["createdAt"])
}

func TestNewView_WithImage(t *testing.T) {
	url := "https://cdn.example.com/a.png"
	msg := &ChatMessage{ID: 1, SenderID: 3, Content: "x", CreatedAt: time.Now()}
	view := NewView(msg, &Member{ID: 3, Nickname: "jo", ImageURL: &url})

	require.NotNil(t, view.SenderImage)
	assert.Equal(t, url, *view.SenderImage)
}

func TestChatMessageView_RoundTrip(t *testing.T) {
	original := ChatMessageView{
		MessageID:  11,
		SenderID:   2,
		SenderName: "sam",
		Content:    "hello",
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 6000000, time.UTC),
	}
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded ChatMessageView
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.MessageID, decoded.MessageID)
	assert.Nil(t, decoded.SenderImage)
	assert.True(t, original.CreatedAt.Equal(decoded.CreatedAt))
}

func TestChatMessage_IsDeleted(t *testing.T) {
	msg := &ChatMessage{}
	assert.False(t, msg.IsDeleted())
	now := time.Now()
	msg.DeletedAt = &now
	assert.True(t, msg.IsDeleted())
}

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		max     int
		wantErr bool
	}{
		{"valid", "hello", 10, false},
		{"empty", "", 10, true},
		{"blank", "   \n\t", 10, true},
		{"at limit in runes", strings.Repeat("가", 10), 10, false},
		{"over limit", strings.Repeat("a", 11), 10, true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), 10, true},
		{"no limit", strings.Repeat("a", 5000), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.content, tt.max)
			if tt.wantErr {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, "content", vErr.Field)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
