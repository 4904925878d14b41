package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	b := New("ratelimit-store")
	assert.Equal(t, "ratelimit-store", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "closed", b.State().String())
	assert.False(t, b.IsOpen())
}

// TestOutcomeSequences replays recorded outcomes ('f' failure, 's' success)
// and checks the state after each one.
func TestOutcomeSequences(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		outcomes  string
		wantOpen  string // '1' open, '0' closed, one per outcome
		wantFinal State
	}{
		{
			name:      "default opens on the fifth consecutive failure",
			outcomes:  "fffff",
			wantOpen:  "00001",
			wantFinal: StateOpen,
		},
		{
			name:      "success while closed clears the failure streak",
			opts:      []Option{WithFailureThreshold(3)},
			outcomes:  "ffsfff",
			wantOpen:  "000001",
			wantFinal: StateOpen,
		},
		{
			name:      "default closes after three successes",
			opts:      []Option{WithFailureThreshold(1)},
			outcomes:  "fsss",
			wantOpen:  "1110",
			wantFinal: StateClosed,
		},
		{
			name:      "failure while open restarts the success streak",
			opts:      []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			outcomes:  "fsfss",
			wantOpen:  "11110",
			wantFinal: StateClosed,
		},
		{
			name:      "non-positive thresholds keep the defaults",
			opts:      []Option{WithFailureThreshold(0), WithSuccessThreshold(-1)},
			outcomes:  "ffff",
			wantOpen:  "0000",
			wantFinal: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Len(t, tt.wantOpen, len(tt.outcomes))
			b := New("test", tt.opts...)
			for i, o := range tt.outcomes {
				if o == 'f' {
					b.RecordFailure()
				} else {
					b.RecordSuccess()
				}
				assert.Equal(t, tt.wantOpen[i] == '1', b.IsOpen(), "after outcome %d (%c)", i+1, o)
			}
			assert.Equal(t, tt.wantFinal, b.State())
		})
	}
}

func TestStateChanges(t *testing.T) {
	b := New("test", WithFailureThreshold(2), WithSuccessThreshold(1))

	useFallback, change := b.RecordFailure()
	assert.False(t, useFallback)
	assert.Equal(t, StateChange{}, change)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback, "open breaker keeps routing to the fallback")
	assert.False(t, change.Opened, "already open")

	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)

	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.Equal(t, StateChange{}, change)
}
