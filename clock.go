package jsoncrdt

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// well known sessions
const SessionSystem = uint64(0)
const SessionServer = uint64(1)

// the smallest session id that `NewSessionId` will generate.
// lower values are reserved for well known sessions.
const MinSessionId = uint64(0x10000)

var ErrClockOverflow = errors.New("logical clock overflow")

// comparable
type Ts struct {
	Sid  uint64
	Time uint64
}

// the origin sentinel. as an insert anchor it means "position zero".
var Origin = Ts{}

func (self Ts) IsOrigin() bool {
	return self == Origin
}

func (self Ts) Step(offset uint64) Ts {
	return Ts{
		Sid:  self.Sid,
		Time: self.Time + offset,
	}
}

func (self Ts) String() string {
	return fmt.Sprintf("%d.%d", self.Sid, self.Time)
}

// total order used to break concurrency ties.
// higher time wins, then higher sid
func CompareTs(a Ts, b Ts) int {
	if a.Time < b.Time {
		return -1
	} else if b.Time < a.Time {
		return 1
	} else if a.Sid < b.Sid {
		return -1
	} else if b.Sid < a.Sid {
		return 1
	} else {
		return 0
	}
}

// comparable
type Tss struct {
	Sid  uint64
	Time uint64
	Span uint64
}

func (self Tss) Ts() Ts {
	return Ts{
		Sid:  self.Sid,
		Time: self.Time,
	}
}

func (self Tss) String() string {
	return fmt.Sprintf("%d.%d!%d", self.Sid, self.Time, self.Span)
}

// one row of a clock table.
// the highest time observed per session, used to compact ids in wire formats
type ClockBase struct {
	Sid  uint64
	Time uint64
}

type Clock interface {
	SessionId() uint64
	Time() uint64
	// returns the current time as an id and advances by `span`
	Tick(span uint64) (Ts, error)
	// raises the observed high water mark for the id's session.
	// observed times are never decreased
	Observe(id Ts, span uint64)
}

// per session logical clock.
// tracks one local counter plus the observed counters of foreign sessions
type ClockVector struct {
	sid  uint64
	time uint64
	// foreign session -> highest observed time
	peers map[uint64]uint64
}

func NewClockVector(sid uint64, time uint64) *ClockVector {
	return &ClockVector{
		sid:   sid,
		time:  time,
		peers: map[uint64]uint64{},
	}
}

func (self *ClockVector) SessionId() uint64 {
	return self.sid
}

func (self *ClockVector) Time() uint64 {
	return self.time
}

func (self *ClockVector) Tick(span uint64) (Ts, error) {
	if maxUint64-self.time < span {
		return Ts{}, ErrClockOverflow
	}
	id := Ts{
		Sid:  self.sid,
		Time: self.time,
	}
	self.time += span
	return id, nil
}

func (self *ClockVector) Observe(id Ts, span uint64) {
	end := id.Time + span
	if id.Sid != self.sid {
		last := id.Time
		if 0 < span {
			last = id.Time + span - 1
		}
		if self.peers[id.Sid] < last {
			self.peers[id.Sid] = last
		}
	}
	// the local counter stays ahead of everything observed
	if self.time < end {
		self.time = end
	}
}

// highest observed time for a foreign session. zero if never observed
func (self *ClockVector) Peer(sid uint64) uint64 {
	return self.peers[sid]
}

func (self *ClockVector) PeerSessions() []uint64 {
	sessions := []uint64{}
	for sid := range self.peers {
		sessions = append(sessions, sid)
	}
	return sessions
}

// single shared server clock. all ids use the reserved server session
type ServerClockVector struct {
	time uint64
}

func NewServerClockVector(time uint64) *ServerClockVector {
	return &ServerClockVector{
		time: time,
	}
}

func (self *ServerClockVector) SessionId() uint64 {
	return SessionServer
}

func (self *ServerClockVector) Time() uint64 {
	return self.time
}

func (self *ServerClockVector) Tick(span uint64) (Ts, error) {
	if maxUint64-self.time < span {
		return Ts{}, ErrClockOverflow
	}
	id := Ts{
		Sid:  SessionServer,
		Time: self.time,
	}
	self.time += span
	return id, nil
}

func (self *ServerClockVector) Observe(id Ts, span uint64) {
	end := id.Time + span
	if self.time < end {
		self.time = end
	}
}

// a random session id in [MinSessionId, 2^53)
func NewSessionId() uint64 {
	u := ulid.Make()
	sid := binary.BigEndian.Uint64(u[8:16]) & ((uint64(1) << 53) - 1)
	if sid < MinSessionId {
		sid += MinSessionId
	}
	return sid
}

const maxUint64 = ^uint64(0)
