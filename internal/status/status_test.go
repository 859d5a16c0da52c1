package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain() {
	for {
		select {
		case <-StatusChan:
		default:
			return
		}
	}
}

func TestSendDeliversToStatusChan(t *testing.T) {
	drain()

	Send(Recording, "Recording 10s clip")

	select {
	case msg := <-StatusChan:
		assert.Equal(t, Recording, msg.Code)
		assert.Equal(t, "Recording 10s clip", msg.Text)
	default:
		require.Fail(t, "no message on StatusChan")
	}
}

func TestLastTracksMostRecentSend(t *testing.T) {
	drain()

	Send(Recording, "Recording 5s clip")
	Send(Done, "Clip ready")

	last := Last()
	assert.Equal(t, Done, last.Code)
	assert.Equal(t, "Clip ready", last.Text)
	drain()
}

func TestSendNeverBlocksWhenChannelFull(t *testing.T) {
	drain()

	// Fill the buffer, then keep sending: all calls must return.
	for i := 0; i < cap(StatusChan)+5; i++ {
		Send(Preview, "Preview running")
	}

	assert.Len(t, StatusChan, cap(StatusChan))
	drain()
}
