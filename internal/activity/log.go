// Package activity holds the bounded newest-first record of transfers.
package activity

// Capacity is the fixed number of entries a Log keeps.
const Capacity = 10

// Log is a newest-first buffer of at most Capacity entries.
//
// Log is not safe for concurrent use. Readers outside the owner must work on
// Snapshot copies.
type Log struct {
	entries []Entry
}

func NewLog() *Log {
	return &Log{entries: make([]Entry, 0, Capacity+1)}
}

// Append inserts e at the front and drops the oldest entry once the log is full.
func (l *Log) Append(e Entry) {
	l.entries = append(l.entries, Entry{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = e
	if len(l.entries) > Capacity {
		l.entries[Capacity] = Entry{}
		l.entries = l.entries[:Capacity]
	}
}

// Snapshot returns a copy of the entries, newest first.
func (l *Log) Snapshot() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int { return len(l.entries) }

func (l *Log) Cap() int { return Capacity }
