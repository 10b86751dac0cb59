package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testRegistry(cfg Config) (*Registry, *time.Time) {
	r := NewRegistry(cfg)
	now := time.Unix(1700000000, 0)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestOpensAfterThreshold(t *testing.T) {
	r, _ := testRegistry(Config{Threshold: 3, CoolDown: time.Minute, CoolDownCap: 10 * time.Minute})

	for i := 0; i < 2; i++ {
		r.RecordFailure("https://example.com.br")
		require.NoError(t, r.Allow("https://example.com.br"))
	}
	r.RecordFailure("https://example.com.br")
	require.ErrorIs(t, r.Allow("https://example.com.br"), ErrOpen)
}

func TestSuccessResetsCounter(t *testing.T) {
	r, _ := testRegistry(Config{Threshold: 3, CoolDown: time.Minute, CoolDownCap: 10 * time.Minute})

	r.RecordFailure("https://a.com")
	r.RecordFailure("https://a.com")
	r.RecordSuccess("https://a.com")
	require.Equal(t, 0, r.Failures("https://a.com"))
	r.RecordFailure("https://a.com")
	require.NoError(t, r.Allow("https://a.com"))
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	r, now := testRegistry(Config{Threshold: 1, CoolDown: time.Minute, CoolDownCap: 10 * time.Minute})

	r.RecordFailure("https://a.com")
	require.ErrorIs(t, r.Allow("https://a.com"), ErrOpen)

	*now = now.Add(61 * time.Second)
	require.NoError(t, r.Allow("https://a.com"))          // the probe
	require.ErrorIs(t, r.Allow("https://a.com"), ErrOpen) // everyone else

	r.RecordSuccess("https://a.com")
	require.Equal(t, StateClosed, r.State("https://a.com"))
	require.NoError(t, r.Allow("https://a.com"))
}

func TestFailedProbeDoublesCoolDown(t *testing.T) {
	r, now := testRegistry(Config{Threshold: 1, CoolDown: time.Minute, CoolDownCap: 3 * time.Minute})

	r.RecordFailure("https://a.com")
	*now = now.Add(61 * time.Second)
	require.NoError(t, r.Allow("https://a.com"))
	r.RecordFailure("https://a.com") // probe failed, cool-down now 2m

	*now = now.Add(90 * time.Second)
	require.ErrorIs(t, r.Allow("https://a.com"), ErrOpen)

	*now = now.Add(31 * time.Second)
	require.NoError(t, r.Allow("https://a.com"))
	r.RecordFailure("https://a.com") // doubled again but capped at 3m

	*now = now.Add(3*time.Minute + time.Second)
	require.NoError(t, r.Allow("https://a.com"))
}

func TestOriginsAreIndependent(t *testing.T) {
	r, _ := testRegistry(Config{Threshold: 1, CoolDown: time.Minute, CoolDownCap: 10 * time.Minute})

	r.RecordFailure("https://a.com")
	require.ErrorIs(t, r.Allow("https://a.com"), ErrOpen)
	require.NoError(t, r.Allow("https://b.com"))
}
