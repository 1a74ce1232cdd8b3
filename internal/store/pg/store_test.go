package pg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRankSQL(t *testing.T) {
	require.Equal(t,
		"(CASE message_status.status WHEN 'queued' THEN 1 WHEN 'sent' THEN 2 WHEN 'delivered' THEN 3 WHEN 'failed' THEN 3 ELSE 0 END)",
		rankSQL("message_status.status"))
}
