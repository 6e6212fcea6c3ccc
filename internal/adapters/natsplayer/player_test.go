package natsplayer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natspkg "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchcall/internal/domain"
	logx "matchcall/pkg/logx"
)

type fakeConn struct {
	subject  string
	sent     PlayMessage
	deadline time.Duration
	reply    []byte
	err      error
}

func (f *fakeConn) RequestWithContext(ctx context.Context, subj string, data []byte) (*natspkg.Msg, error) {
	f.subject = subj
	if dl, ok := ctx.Deadline(); ok {
		f.deadline = time.Until(dl)
	}
	if err := json.Unmarshal(data, &f.sent); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &natspkg.Msg{Subject: subj, Data: f.reply}, nil
}

func TestPlaySendsJobAndReadsReply(t *testing.T) {
	t.Parallel()
	fc := &fakeConn{reply: []byte(`{"ok":true}`)}
	p := newPlayer(Config{Subject: "voice.play", ReplyGrace: 5 * time.Second}, fc, logx.Nop())

	ok, err := p.Play(context.Background(), domain.PlayRequest{
		Destination: "guild1:chan.2",
		URL:         "https://tts.local/m/NA1_1",
		Volume:      0.8,
		Normalize:   true,
		MaxDuration: 30 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "voice.play.guild1:chan_2", fc.subject)
	assert.Equal(t, "guild1:chan.2", fc.sent.Destination)
	assert.Equal(t, int64(30000), fc.sent.MaxDurationMS)
	assert.True(t, fc.sent.Normalize)
	assert.InDelta(t, 35*time.Second, fc.deadline, float64(time.Second))
}

func TestPlayReportsWorkerFailure(t *testing.T) {
	t.Parallel()
	fc := &fakeConn{reply: []byte(`{"ok":false,"error":"not in voice channel"}`)}
	p := newPlayer(Config{}, fc, logx.Nop())

	ok, err := p.Play(context.Background(), domain.PlayRequest{Destination: "g:c", Audio: []byte("OggS")})
	assert.False(t, ok)
	assert.EqualError(t, err, "not in voice channel")
	assert.Equal(t, []byte("OggS"), fc.sent.Audio)
}

func TestPlayNoResponders(t *testing.T) {
	t.Parallel()
	fc := &fakeConn{err: natspkg.ErrNoResponders}
	p := newPlayer(Config{}, fc, logx.Nop())

	ok, err := p.Play(context.Background(), domain.PlayRequest{Destination: "g:c", URL: "u"})
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no voice worker")
}

func TestPlayTransportError(t *testing.T) {
	t.Parallel()
	fc := &fakeConn{err: errors.New("nats: timeout")}
	p := newPlayer(Config{}, fc, logx.Nop())
	ok, err := p.Play(context.Background(), domain.PlayRequest{Destination: "g:c", URL: "u"})
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestSanitizeToken(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "_", SanitizeToken(" "))
	assert.Equal(t, "a_b_c_d", SanitizeToken("a.b*c>d"))
	assert.Equal(t, "111", SanitizeToken("111"))
}
