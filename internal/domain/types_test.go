package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageValidate(t *testing.T) {
	cases := []struct {
		name  string
		msg   *Message
		field string
	}{
		{"nil", nil, ""},
		{"missing to", &Message{Text: "hi"}, "to"},
		{"blank to", &Message{To: "  ", Text: "hi"}, "to"},
		{"missing text", &Message{To: "817000"}, "text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrValidation))
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			require.Equal(t, tc.field, ve.Field)
		})
	}

	require.NoError(t, (&Message{To: "817000", Text: "hi"}).Validate())
}

func TestNewDeliveryReport(t *testing.T) {
	r, err := NewDeliveryReport("abc123", "delivered")
	require.NoError(t, err)
	require.Equal(t, DeliveryReport{MessageID: "abc123", Status: StatusDelivered, RawStatus: "delivered"}, r)

	_, err = NewDeliveryReport("abc123", "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = NewDeliveryReport(" ", "sent")
	require.ErrorIs(t, err, ErrValidation)
}

func TestParseStatus(t *testing.T) {
	require.Equal(t, StatusQueued, ParseStatus("Pending"))
	require.Equal(t, StatusSent, ParseStatus("sent"))
	require.Equal(t, StatusDelivered, ParseStatus(" DELIVERED "))
	require.Equal(t, StatusFailed, ParseStatus("undelivered"))
	require.Equal(t, StatusUnknown, ParseStatus("teleported"))
	require.True(t, StatusFailed.Final())
	require.False(t, StatusSent.Final())
	require.Less(t, StatusQueued.Rank(), StatusSent.Rank())
	require.Less(t, StatusSent.Rank(), StatusDelivered.Rank())
	require.Equal(t, StatusDelivered.Rank(), StatusFailed.Rank())
	require.Zero(t, StatusUnknown.Rank())
}
