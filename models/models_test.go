package models

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretNeverPrintsValue(t *testing.T) {
	creds := Credentials{
		IMAP:        &IMAPCredentials{Host: "imap.example.com", Username: "host", Password: "imap-pass"},
		MobileToken: "mobile-token",
	}

	out, err := json.Marshal(creds)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "imap-pass")
	assert.NotContains(t, string(out), "mobile-token")
	assert.Contains(t, string(out), `"password":"****"`)

	text, err := Secret("x").MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "****", string(text))

	assert.NotContains(t, fmt.Sprintf("%v %+v %#v", creds.MobileToken, *creds.IMAP, creds.MobileToken), "imap-pass")
	assert.Equal(t, "", Secret("").String())
	assert.Equal(t, "imap-pass", creds.IMAP.Password.Reveal())
}

func TestSyncResultDurationIsMilliseconds(t *testing.T) {
	r := SyncResult{Success: true, MethodUsed: MethodICal, BookingsFound: 2, Duration: 2345 * time.Millisecond}

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"duration_ms":2345`)
	assert.NotContains(t, string(out), `"duration":`)

	var back SyncResult
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, r, back)
}
