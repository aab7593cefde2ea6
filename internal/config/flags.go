package config

import "sync/atomic"

// Flags holds the current FlagValues. Reads are lock-free so the listener
// and the gate can consult it on every callback.
type Flags struct {
	v atomic.Pointer[FlagValues]
}

func NewFlags(v FlagValues) *Flags {
	f := &Flags{}
	f.Store(v)
	return f
}

// Store replaces the current values.
func (f *Flags) Store(v FlagValues) { f.v.Store(&v) }

// Load returns the current values.
func (f *Flags) Load() FlagValues { return *f.v.Load() }

func (f *Flags) WithholdDupes() bool { return f.v.Load().WithholdDupes }
func (f *Flags) WithholdPartialFailures() bool { return f.v.Load().WithholdPartialFailures }
func (f *Flags) SMSReadBuffer() bool { return f.v.Load().SMSReadBuffer }
func (f *Flags) DropSpamMessages() bool { return f.v.Load().DropSpamMessages }
func (f *Flags) LogSensitivePayloads() bool { return f.v.Load().LogSensitivePayloads }
