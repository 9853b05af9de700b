package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/distantorigin/gamesync/internal/audio"
)

type recordingSound struct {
	played []audio.Cue
}

func (r *recordingSound) Play(cue audio.Cue) { r.played = append(r.played, cue) }

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
		cues  []audio.Cue
	}{
		{"yes", "y\n", true, []audio.Cue{audio.CueSuccess}},
		{"yes word", "  YES \n", true, []audio.Cue{audio.CueSuccess}},
		{"no", "n\n", false, []audio.Cue{audio.CueCancelled}},
		{"garbage", "maybe\n", false, nil},
		{"eof", "", false, nil},
		{"no newline", "y", true, []audio.Cue{audio.CueSuccess}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			sound := &recordingSound{}
			got := Confirm("Delete it?", Config{In: strings.NewReader(tt.input), Out: &out, Sound: sound})
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.cues, sound.played)
			assert.Contains(t, out.String(), "Delete it? (y/n)")
		})
	}
}

func TestConfirm_NonInteractive(t *testing.T) {
	assert.True(t, Confirm("Delete it?", Config{NonInteractive: true, In: strings.NewReader("n\n")}))
}

func TestChannelMenu(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"release", "1\n", "release"},
		{"pre-release after a typo", "9\n2\n", "pre-release"},
		{"other", "3\nExperimental\n", "experimental"},
		{"other alias", "3\nbeta\n", "pre-release"},
		{"other retries bad name", "3\n../x\nnightly\n", "nightly"},
		{"input ends", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			got := ChannelMenu(ChannelInfo{ReleaseLatest: 7}, Config{In: strings.NewReader(tt.input), Out: &out})
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Release (latest: 7)")
		})
	}
}

func TestChannelMenu_NonInteractive(t *testing.T) {
	assert.Equal(t, "release", ChannelMenu(ChannelInfo{Current: "Stable"}, Config{NonInteractive: true}))
}
