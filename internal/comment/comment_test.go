package comment

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucket(t *testing.T) {
	day := func(h, m int) time.Time { return time.Date(2026, 10, 17, h, m, 0, 0, time.UTC) }

	assert.Equal(t, Morning, Bucket(day(0, 0)))
	assert.Equal(t, Morning, Bucket(day(10, 59)))
	assert.Equal(t, Midday, Bucket(day(11, 0)))
	assert.Equal(t, Midday, Bucket(day(17, 59)))
	assert.Equal(t, Evening, Bucket(day(18, 0)))
	assert.Equal(t, Evening, Bucket(day(23, 30)))
}

func TestSelectFromVerdictPool(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		assert.Contains(t, DefaultPools.Special, Select(rng, DefaultPools, true, Midday))
		assert.Contains(t, DefaultPools.Ordinary, Select(rng, DefaultPools, false, Midday))
	}
}

func TestSelectAppendsTimePhrase(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	got := Select(rng, DefaultPools, false, Morning)
	assert.True(t, hasSuffixFrom(got, DefaultPools.Morning), got)

	got = Select(rng, DefaultPools, true, Evening)
	assert.True(t, hasSuffixFrom(got, DefaultPools.Evening), got)
}

func TestSelectDeterministicWithSeed(t *testing.T) {
	a := rand.New(rand.NewSource(42))
	b := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		assert.Equal(t, Select(a, DefaultPools, i%2 == 0, Morning), Select(b, DefaultPools, i%2 == 0, Morning))
	}
}

func TestSelectEmptyPoolPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Panics(t, func() { Select(rng, Pools{Special: []string{"x"}}, false, Midday) })
	assert.Panics(t, func() { Select(rng, Pools{Ordinary: []string{"x"}}, false, Evening) })
	assert.NotPanics(t, func() { Select(rng, Pools{Ordinary: []string{"x"}}, false, Midday) })
}

func hasSuffixFrom(s string, pool []string) bool {
	for _, p := range pool {
		if strings.HasSuffix(s, " "+p) {
			return true
		}
	}
	return false
}
