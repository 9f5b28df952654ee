package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_NowOnlyMovesOnAdvance(t *testing.T) {
	c := Fake(epoch)
	assert.Equal(t, epoch, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), c.Now())

	c.Set(epoch)
	assert.Equal(t, epoch, c.Now())
}

func TestFake_TickerFiresPerInterval(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	select {
	case <-ticker.C:
		t.Fatal("ticker fired before advance")
	default:
	}

	c.Advance(time.Minute)
	select {
	case got := <-ticker.C:
		assert.Equal(t, epoch.Add(time.Minute), got)
	default:
		t.Fatal("expected tick after one interval")
	}
}

func TestFake_TickerDropsOverflow(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)

	c.Advance(5 * time.Second)

	require.Len(t, ticker.C, 1)
	<-ticker.C
	assert.Empty(t, ticker.C)
}

func TestFake_StoppedTickerIsSilent(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	ticker.Stop()

	c.Advance(3 * time.Second)
	assert.Empty(t, ticker.C)
}

func TestFake_NewTickerPanicsOnZero(t *testing.T) {
	assert.Panics(t, func() { Fake(epoch).NewTicker(0) })
}
