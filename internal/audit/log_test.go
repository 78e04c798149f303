package audit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRangeIsInclusive(t *testing.T) {
	log := NewLog(10)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		log.Append(NewEvent(KindPolicyViolation, base.Add(time.Duration(i)*time.Minute), "1234:5678", fmt.Sprintf("e%d", i), "Medium"))
	}

	got := log.Range(base.Add(time.Minute), base.Add(3*time.Minute))
	require.Len(t, got, 3)
	assert.Equal(t, "e1", got[0].Description)
	assert.Equal(t, "e3", got[2].Description)

	assert.Empty(t, log.Range(base.Add(time.Hour), base.Add(2*time.Hour)))
}

func TestLogBoundedAtDefaultCapacity(t *testing.T) {
	log := NewLog(DefaultCapacity)
	now := time.Now()

	for i := range DefaultCapacity + 250 {
		log.Append(NewEvent(KindUnauthorizedAccess, now, "ABCD:0001", fmt.Sprintf("%d", i), "Low"))
	}

	assert.Equal(t, DefaultCapacity, log.Len())
	assert.Equal(t, uint64(250), log.Evicted())

	all := log.All()
	assert.Equal(t, "250", all[0].Description)
	assert.Equal(t, fmt.Sprintf("%d", DefaultCapacity+249), all[len(all)-1].Description)
}

func TestLogConcurrentAppend(t *testing.T) {
	log := NewLog(100)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				log.Append(NewEvent(KindProtocolViolation, time.Now(), "1:1", "x", "Medium"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, log.Len())
	assert.Equal(t, uint64(300), log.Evicted())
}

func TestLogClear(t *testing.T) {
	log := NewLog(3)
	log.Append(NewEvent(KindAuthorizationDenied, time.Now(), "1:1", "x", "Medium"))
	log.Clear()
	assert.Zero(t, log.Len())
}

func TestNewEventAssignsUniqueIDs(t *testing.T) {
	a := NewEvent(KindPolicyViolation, time.Now(), "1:1", "a", "Low")
	b := NewEvent(KindPolicyViolation, time.Now(), "1:1", "b", "Low")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "PolicyViolation", a.Kind.String())
}
