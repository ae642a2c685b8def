//go:build memprof

package main

import (
	"os"
	"runtime/pprof"

	"github.com/rs/zerolog/log"
)

func init() {
	hooks = append(hooks, &memprof{})
}

// memprof captures a heap profile of the storage core's buffer pool and
// log state on shutdown, for sizing the buffer/block-size flags.
type memprof struct {
	f *os.File
}

func (m *memprof) OnStart() error {
	f, err := os.Create("simpledb-mem.prof")
	if err != nil {
		return err
	}
	m.f = f

	log.Info().Str("file", f.Name()).Msg("memprof: heap profiling armed")
	return nil
}

func (m *memprof) OnEnd() error {
	if err := pprof.WriteHeapProfile(m.f); err != nil {
		return err
	}
	log.Info().Str("file", m.f.Name()).Msg("memprof: heap profile written")
	return m.f.Close()
}
