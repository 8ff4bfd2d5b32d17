package objectstore

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLMatchesTypeAFormula(t *testing.T) {
	s := &Signer{BaseURL: "https://cdn.example.com/", AuthKey: "secret-key"}
	now := time.Unix(1_700_000_000, 0).UTC()

	url, err := s.SignedURL("audio/news/2023-11-14/ep1.mp3", 3600, now)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "https://cdn.example.com/audio/news/2023-11-14/ep1.mp3?sign="))

	sign := strings.SplitN(url, "?sign=", 2)[1]
	parts := strings.SplitN(sign, "-", 4)
	require.Len(t, parts, 4)

	tStr, randStr, uid, gotHash := parts[0], parts[1], parts[2], parts[3]
	require.Equal(t, "0", uid)
	require.Len(t, randStr, 16)

	raw := fmt.Sprintf("/audio/news/2023-11-14/ep1.mp3-%s-%s-%s-secret-key", tStr, randStr, uid)
	sum := md5.Sum([]byte(raw))
	require.Equal(t, hex.EncodeToString(sum[:]), gotHash)
}

func TestSignedURLStripsLeadingSlashBeforeReapplying(t *testing.T) {
	s := &Signer{BaseURL: "https://cdn.example.com", AuthKey: "k"}
	url, err := s.SignedURL("/audio/a.mp3", 60, time.Unix(0, 0))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "https://cdn.example.com/audio/a.mp3?sign="))
}

func TestAudioAndSegmentsKeyLayout(t *testing.T) {
	ts := int64(1_700_000_000) // 2023-11-14T22:13:20Z
	require.Equal(t, "audio/news_room/2023-11-14/ep123.mp3", AudioKey("news/room", ts, "ep123", "mp3"))
	require.Equal(t, "segments/news_room/2023-11-14/ep123.json", SegmentsKey("news/room", ts, "ep123"))
}
