package jsoncrdt

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestClockVector(t *testing.T) {
	clock := NewClockVector(100, 1)
	assert.Equal(t, uint64(100), clock.SessionId())
	assert.Equal(t, uint64(1), clock.Time())

	id, err := clock.Tick(3)
	assert.Equal(t, err, nil)
	assert.Equal(t, Ts{Sid: 100, Time: 1}, id)
	assert.Equal(t, uint64(4), clock.Time())

	id, err = clock.Tick(1)
	assert.Equal(t, err, nil)
	assert.Equal(t, Ts{Sid: 100, Time: 4}, id)

	// observing a foreign session raises its high water mark and
	// keeps the local counter ahead
	clock.Observe(Ts{Sid: 200, Time: 10}, 5)
	assert.Equal(t, uint64(14), clock.Peer(200))
	assert.Equal(t, uint64(15), clock.Time())

	// lower observations never move anything backwards
	clock.Observe(Ts{Sid: 200, Time: 2}, 1)
	assert.Equal(t, uint64(14), clock.Peer(200))
	assert.Equal(t, uint64(15), clock.Time())

	clock.Observe(Ts{Sid: 100, Time: 20}, 2)
	assert.Equal(t, uint64(22), clock.Time())
	assert.Equal(t, uint64(0), clock.Peer(100))
}

func TestClockOverflow(t *testing.T) {
	clock := NewClockVector(7, maxUint64-1)
	_, err := clock.Tick(2)
	assert.Equal(t, err, ErrClockOverflow)

	id, err := clock.Tick(1)
	assert.Equal(t, err, nil)
	assert.Equal(t, Ts{Sid: 7, Time: maxUint64 - 1}, id)

	_, err = clock.Tick(1)
	assert.Equal(t, err, ErrClockOverflow)
}

func TestServerClockVector(t *testing.T) {
	clock := NewServerClockVector(1)
	assert.Equal(t, SessionServer, clock.SessionId())

	id, err := clock.Tick(2)
	assert.Equal(t, err, nil)
	assert.Equal(t, Ts{Sid: SessionServer, Time: 1}, id)
	assert.Equal(t, uint64(3), clock.Time())

	clock.Observe(Ts{Sid: SessionServer, Time: 10}, 1)
	assert.Equal(t, uint64(11), clock.Time())
}

func TestCompareTs(t *testing.T) {
	// time dominates, sid breaks ties
	assert.Equal(t, -1, CompareTs(Ts{Sid: 9, Time: 1}, Ts{Sid: 1, Time: 2}))
	assert.Equal(t, 1, CompareTs(Ts{Sid: 1, Time: 2}, Ts{Sid: 9, Time: 1}))
	assert.Equal(t, -1, CompareTs(Ts{Sid: 1, Time: 5}, Ts{Sid: 2, Time: 5}))
	assert.Equal(t, 1, CompareTs(Ts{Sid: 2, Time: 5}, Ts{Sid: 1, Time: 5}))
	assert.Equal(t, 0, CompareTs(Ts{Sid: 2, Time: 5}, Ts{Sid: 2, Time: 5}))

	assert.Equal(t, true, Origin.IsOrigin())
	assert.Equal(t, false, Ts{Sid: 1, Time: 0}.IsOrigin())
	assert.Equal(t, Ts{Sid: 3, Time: 7}, Ts{Sid: 3, Time: 4}.Step(3))
}

func TestNewSessionId(t *testing.T) {
	for i := 0; i < 1000; i += 1 {
		sid := NewSessionId()
		assert.Equal(t, true, MinSessionId <= sid)
		assert.Equal(t, true, sid < uint64(1)<<53)
	}
}
